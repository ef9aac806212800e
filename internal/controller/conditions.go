package controller

// Condition is the minimal status condition shape shared by every kind's
// status.conditions array (PodScheduled, Initialized, ContainersReady,
// Ready, Progressing, Available, ReplicaFailure, ...).
type Condition struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// SetCondition returns conditions with c applied in place of any existing
// condition of the same type, or appended if none matches. Callers never
// mutate a conditions slice directly field-by-field.
func SetCondition(conditions []Condition, c Condition) []Condition {
	for i := range conditions {
		if conditions[i].Type == c.Type {
			conditions[i] = c
			return conditions
		}
	}
	return append(conditions, c)
}

// ConditionTrue is shorthand for a condition in status "True".
func ConditionTrue(kind, reason string) Condition {
	return Condition{Type: kind, Status: "True", Reason: reason}
}

// ConditionFalse is shorthand for a condition in status "False".
func ConditionFalse(kind, reason, message string) Condition {
	return Condition{Type: kind, Status: "False", Reason: reason, Message: message}
}
