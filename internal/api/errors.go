package api

import (
	"encoding/json"
	"net/http"

	"github.com/cpaika/gokube/internal/store"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// writeError maps a typed store.Error onto the matching HTTP status and a
// kubectl-compatible metav1.Status body. Nothing here inspects an error
// message for a substring; the mapping is a pure function of store.Code.
func writeError(w http.ResponseWriter, err error) {
	serr, ok := store.AsStoreError(err)
	if !ok {
		writeStatus(w, http.StatusInternalServerError, metav1.StatusReasonInternalError, err.Error())
		return
	}
	code, reason := statusFor(serr.Code)
	writeStatus(w, code, reason, serr.Message)
}

func statusFor(code store.Code) (int, metav1.StatusReason) {
	switch code {
	case store.CodeNotFound:
		return http.StatusNotFound, metav1.StatusReasonNotFound
	case store.CodeAlreadyExists:
		return http.StatusConflict, metav1.StatusReasonAlreadyExists
	case store.CodeInvalid:
		return http.StatusBadRequest, metav1.StatusReasonBadRequest
	case store.CodeImmutable:
		return http.StatusUnprocessableEntity, metav1.StatusReasonInvalid
	case store.CodeConflict:
		return http.StatusConflict, metav1.StatusReasonConflict
	case store.CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge, metav1.StatusReasonRequestEntityTooLarge
	case store.CodeUpgradeRequired:
		return http.StatusUpgradeRequired, metav1.StatusReasonBadRequest
	default:
		return http.StatusInternalServerError, metav1.StatusReasonInternalError
	}
}

func writeStatus(w http.ResponseWriter, code int, reason metav1.StatusReason, message string) {
	status := metav1.Status{
		TypeMeta: metav1.TypeMeta{Kind: "Status", APIVersion: "v1"},
		Status:   metav1.StatusFailure,
		Message:  message,
		Reason:   reason,
		Code:     int32(code),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
