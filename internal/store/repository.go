package store

import (
	"database/sql"
	"encoding/json"
	"strconv"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

// row is the flat row shape of a resource table, used for sqlx scanning;
// Resource.Spec/Status/Labels/etc. are folded into and out of it at the
// repository boundary.
type row struct {
	UID               string         `db:"uid"`
	Namespace         string         `db:"namespace"`
	Name              string         `db:"name"`
	APIVersion        string         `db:"api_version"`
	Kind              string         `db:"kind"`
	Spec              string         `db:"spec"`
	Status            string         `db:"status"`
	Labels            string         `db:"labels"`
	Annotations       string         `db:"annotations"`
	OwnerReferences   string         `db:"owner_references"`
	ResourceVersion   int64          `db:"resource_version"`
	Generation        int64          `db:"generation"`
	CreationTimestamp string         `db:"creation_timestamp"`
	DeletionTimestamp sql.NullString `db:"deletion_timestamp"`
}

// Repository is the single typed-repository shape every kind gets: create,
// get, list, update, patch, update_status, delete. One Repository instance
// is dedicated to exactly one kind, constructed from the catalogue entry.
type Repository struct {
	db   *DB
	kind KindInfo
}

// NewRepository builds the Repository for one catalogue entry.
func NewRepository(db *DB, kind KindInfo) *Repository {
	return &Repository{db: db, kind: kind}
}

func (r *Repository) Kind() KindInfo { return r.kind }

// Create stores a new live object. uid/resourceVersion/generation/
// creationTimestamp are always assigned by the store, never trusted from
// the caller.
func (r *Repository) Create(namespace string, obj *Resource) (*Resource, error) {
	if obj.Kind != "" && obj.Kind != r.kind.Kind {
		return nil, ErrInvalid("expected kind %q, got %q", r.kind.Kind, obj.Kind)
	}
	if r.kind.Namespaced && namespace == "" {
		namespace = obj.Metadata.Namespace
	}
	if !r.kind.Namespaced {
		namespace = ""
	}
	if obj.Metadata.Name == "" {
		return nil, ErrInvalid("metadata.name is required")
	}

	out := obj.DeepCopy()
	out.Kind = r.kind.Kind
	out.APIVersion = r.kind.APIVersion()
	out.Metadata.Namespace = namespace
	out.Metadata.UID = types.UID(metaUID())
	out.Metadata.ResourceVersion = formatRV(1)
	out.Metadata.Generation = 1
	out.Metadata.CreationTimestamp = newTimestamp()
	out.Metadata.DeletionTimestamp = nil
	if out.Spec == nil {
		out.Spec = json.RawMessage(`{}`)
	}
	if out.Status == nil {
		out.Status = json.RawMessage(`{}`)
	}

	tx, err := r.db.Beginx()
	if err != nil {
		return nil, errors.Wrap(err, "cannot begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	var existing int
	err = tx.Get(&existing, r.sql(`SELECT COUNT(*) FROM %s WHERE namespace = ? AND name = ? AND deletion_timestamp IS NULL`),
		namespace, out.Metadata.Name)
	if err != nil {
		return nil, errors.Wrap(err, "cannot check for existing object")
	}
	if existing > 0 {
		return nil, ErrAlreadyExists(r.kind.Kind, namespace, out.Metadata.Name)
	}

	if err := r.insert(tx, out); err != nil {
		return nil, err
	}
	if err := appendEventTx(tx, r.kind.Kind, out, EventAdded); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "cannot commit create")
	}
	return out, nil
}

func (r *Repository) insert(tx *sqlx.Tx, out *Resource) error {
	labels, _ := json.Marshal(out.Metadata.Labels)
	annotations, _ := json.Marshal(out.Metadata.Annotations)
	owners, _ := json.Marshal(out.Metadata.OwnerReferences)
	_, err := tx.Exec(r.sql(`
INSERT INTO %s (uid, namespace, name, api_version, kind, spec, status, labels, annotations, owner_references, resource_version, generation, creation_timestamp, deletion_timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		out.Metadata.UID, out.Metadata.Namespace, out.Metadata.Name, out.APIVersion, out.Kind,
		string(out.Spec), string(out.Status), string(labels), string(annotations), string(owners),
		mustParseRV(out.Metadata.ResourceVersion), out.Metadata.Generation,
		out.Metadata.CreationTimestamp.Time.Format(rfc3339), nil,
	)
	if err != nil {
		return errors.Wrap(err, "cannot insert object")
	}
	return r.syncProjected(tx, out)
}

const rfc3339 = "2006-01-02T15:04:05.999999999Z07:00"

// resourceColumns is the shared envelope column list. Kind-specific
// projected columns are written by syncProjected and never scanned back;
// the spec document remains the source of truth for reads.
const resourceColumns = `uid, namespace, name, api_version, kind, spec, status, labels, annotations, owner_references, resource_version, generation, creation_timestamp, deletion_timestamp`

// syncProjected copies the kind's projected spec fields into their
// dedicated columns, inside the caller's transaction.
func (r *Repository) syncProjected(tx *sqlx.Tx, out *Resource) error {
	if len(r.kind.Projected) == 0 {
		return nil
	}
	var spec map[string]any
	_ = json.Unmarshal(out.Spec, &spec)

	set := ""
	args := make([]any, 0, len(r.kind.Projected)+1)
	for _, p := range r.kind.Projected {
		if set != "" {
			set += ", "
		}
		set += p.Column + " = ?"
		args = append(args, projectedValue(spec[p.SpecField]))
	}
	args = append(args, out.Metadata.UID)
	_, err := tx.Exec(r.sql(`UPDATE %s SET `+set+` WHERE uid = ?`), args...)
	return errors.Wrap(err, "cannot sync projected columns")
}

// projectedValue renders a decoded spec field as a TEXT column value; a
// missing field stays NULL.
func projectedValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// Get returns the live object named (namespace, name).
func (r *Repository) Get(namespace, name string) (*Resource, error) {
	var ro row
	err := r.db.Get(&ro, r.sql(`SELECT `+resourceColumns+` FROM %s WHERE namespace = ? AND name = ? AND deletion_timestamp IS NULL`), namespace, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound(r.kind.Kind, namespace, name)
	}
	if err != nil {
		return nil, errors.Wrap(err, "cannot get object")
	}
	return r.fromRow(ro)
}

// List returns every live object, optionally filtered to one namespace.
func (r *Repository) List(namespace string) (*List, error) {
	var rows []row
	var err error
	if namespace != "" {
		err = r.db.Select(&rows, r.sql(`SELECT `+resourceColumns+` FROM %s WHERE namespace = ? AND deletion_timestamp IS NULL ORDER BY name`), namespace)
	} else {
		err = r.db.Select(&rows, r.sql(`SELECT `+resourceColumns+` FROM %s WHERE deletion_timestamp IS NULL ORDER BY namespace, name`))
	}
	if err != nil {
		return nil, errors.Wrap(err, "cannot list objects")
	}
	items := make([]*Resource, 0, len(rows))
	for _, ro := range rows {
		obj, err := r.fromRow(ro)
		if err != nil {
			return nil, err
		}
		items = append(items, obj)
	}
	return &List{
		TypeMeta: metav1.TypeMeta{Kind: r.kind.Kind + "List", APIVersion: r.kind.APIVersion()},
		Items:    items,
	}, nil
}

// Update replaces the stored spec wholesale, and the labels, annotations
// and owner references when desired carries them (non-nil); the rest of
// the stored metadata is kept. If desired carries a
// non-empty resourceVersion, it must match the stored value or the update
// fails with Conflict (optimistic concurrency, enforced unconditionally).
func (r *Repository) Update(namespace, name string, desired *Resource) (*Resource, error) {
	tx, err := r.db.Beginx()
	if err != nil {
		return nil, errors.Wrap(err, "cannot begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	var ro row
	err = tx.Get(&ro, r.sql(`SELECT `+resourceColumns+` FROM %s WHERE namespace = ? AND name = ? AND deletion_timestamp IS NULL`), namespace, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound(r.kind.Kind, namespace, name)
	}
	if err != nil {
		return nil, errors.Wrap(err, "cannot get object for update")
	}
	current, err := r.fromRow(ro)
	if err != nil {
		return nil, err
	}

	if rv, ok := parseRV(desired.Metadata.ResourceVersion); ok && rv != ro.ResourceVersion {
		return nil, ErrConflict(r.kind.Kind, name)
	}
	if r.kind.Immutable && isImmutable(current.Spec) && !jsonEqual(normalizeData(current.Spec), normalizeData(desired.Spec)) {
		return nil, ErrImmutable(r.kind.Kind, name)
	}

	next := current.DeepCopy()
	next.Spec = desired.Spec
	if desired.Metadata.Labels != nil {
		next.Metadata.Labels = desired.Metadata.Labels
	}
	if desired.Metadata.Annotations != nil {
		next.Metadata.Annotations = desired.Metadata.Annotations
	}
	if desired.Metadata.OwnerReferences != nil {
		next.Metadata.OwnerReferences = desired.Metadata.OwnerReferences
	}

	// Generation tracks the full spec, not the data-only projection the
	// immutability check narrows to.
	specChanged := !jsonEqual(current.Spec, next.Spec)
	next.Metadata.ResourceVersion = formatRV(ro.ResourceVersion + 1)
	if specChanged {
		next.Metadata.Generation = ro.Generation + 1
	}

	if err := r.update(tx, next); err != nil {
		return nil, err
	}
	if err := appendEventTx(tx, r.kind.Kind, next, EventModified); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "cannot commit update")
	}
	return next, nil
}

// Patch applies an RFC 7396 JSON merge patch to the stored object's top
// level (metadata.labels/annotations and the spec sub-tree). A status key
// in the patch is ignored; status changes go through UpdateStatus.
func (r *Repository) Patch(namespace, name string, patch json.RawMessage) (*Resource, error) {
	tx, err := r.db.Beginx()
	if err != nil {
		return nil, errors.Wrap(err, "cannot begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	var ro row
	err = tx.Get(&ro, r.sql(`SELECT `+resourceColumns+` FROM %s WHERE namespace = ? AND name = ? AND deletion_timestamp IS NULL`), namespace, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound(r.kind.Kind, namespace, name)
	}
	if err != nil {
		return nil, errors.Wrap(err, "cannot get object for patch")
	}
	current, err := r.fromRow(ro)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Metadata *struct {
			Labels      map[string]string `json:"labels"`
			Annotations map[string]string `json:"annotations"`
		} `json:"metadata"`
		Spec json.RawMessage `json:"spec"`
	}
	if err := json.Unmarshal(patch, &envelope); err != nil {
		return nil, ErrInvalid("malformed merge patch: %v", err)
	}

	next := current.DeepCopy()
	specChanged := false
	if envelope.Spec != nil {
		merged, err := MergePatch(current.Spec, envelope.Spec)
		if err != nil {
			return nil, ErrInvalid("malformed spec patch: %v", err)
		}
		if r.kind.Immutable && isImmutable(current.Spec) && !jsonEqual(normalizeData(current.Spec), normalizeData(merged)) {
			return nil, ErrImmutable(r.kind.Kind, name)
		}
		next.Spec = merged
		specChanged = !jsonEqual(current.Spec, merged)
	}
	if envelope.Metadata != nil {
		if envelope.Metadata.Labels != nil {
			next.Metadata.Labels = envelope.Metadata.Labels
		}
		if envelope.Metadata.Annotations != nil {
			next.Metadata.Annotations = envelope.Metadata.Annotations
		}
	}

	next.Metadata.ResourceVersion = formatRV(ro.ResourceVersion + 1)
	if specChanged {
		next.Metadata.Generation = ro.Generation + 1
	}

	if err := r.update(tx, next); err != nil {
		return nil, err
	}
	if err := appendEventTx(tx, r.kind.Kind, next, EventModified); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "cannot commit patch")
	}
	return next, nil
}

// UpdateStatus replaces only the status sub-tree; resourceVersion bumps but
// generation never does.
func (r *Repository) UpdateStatus(namespace, name string, status json.RawMessage) (*Resource, error) {
	tx, err := r.db.Beginx()
	if err != nil {
		return nil, errors.Wrap(err, "cannot begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	var ro row
	err = tx.Get(&ro, r.sql(`SELECT `+resourceColumns+` FROM %s WHERE namespace = ? AND name = ? AND deletion_timestamp IS NULL`), namespace, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound(r.kind.Kind, namespace, name)
	}
	if err != nil {
		return nil, errors.Wrap(err, "cannot get object for status update")
	}
	current, err := r.fromRow(ro)
	if err != nil {
		return nil, err
	}

	next := current.DeepCopy()
	next.Status = status
	next.Metadata.ResourceVersion = formatRV(ro.ResourceVersion + 1)

	if err := r.update(tx, next); err != nil {
		return nil, err
	}
	if err := appendEventTx(tx, r.kind.Kind, next, EventModified); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "cannot commit status update")
	}
	return next, nil
}

func (r *Repository) update(tx *sqlx.Tx, next *Resource) error {
	labels, _ := json.Marshal(next.Metadata.Labels)
	annotations, _ := json.Marshal(next.Metadata.Annotations)
	owners, _ := json.Marshal(next.Metadata.OwnerReferences)
	_, err := tx.Exec(r.sql(`
UPDATE %s SET spec = ?, status = ?, labels = ?, annotations = ?, owner_references = ?, resource_version = ?, generation = ?
WHERE uid = ?`),
		string(next.Spec), string(next.Status), string(labels), string(annotations), string(owners),
		mustParseRV(next.Metadata.ResourceVersion), next.Metadata.Generation, next.Metadata.UID,
	)
	if err != nil {
		return errors.Wrap(err, "cannot update object")
	}
	return r.syncProjected(tx, next)
}

// Delete soft-deletes the object: sets deletionTimestamp so subsequent
// get/list filter it out, and appends a DELETED event.
func (r *Repository) Delete(namespace, name string) (*Resource, error) {
	tx, err := r.db.Beginx()
	if err != nil {
		return nil, errors.Wrap(err, "cannot begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	var ro row
	err = tx.Get(&ro, r.sql(`SELECT `+resourceColumns+` FROM %s WHERE namespace = ? AND name = ? AND deletion_timestamp IS NULL`), namespace, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound(r.kind.Kind, namespace, name)
	}
	if err != nil {
		return nil, errors.Wrap(err, "cannot get object for delete")
	}
	current, err := r.fromRow(ro)
	if err != nil {
		return nil, err
	}

	now := newTimestamp()
	_, err = tx.Exec(r.sql(`UPDATE %s SET deletion_timestamp = ?, resource_version = ? WHERE uid = ?`),
		now.Time.Format(rfc3339), ro.ResourceVersion+1, current.Metadata.UID)
	if err != nil {
		return nil, errors.Wrap(err, "cannot soft-delete object")
	}
	current.Metadata.DeletionTimestamp = &now
	current.Metadata.ResourceVersion = formatRV(ro.ResourceVersion + 1)

	if err := appendEventTx(tx, r.kind.Kind, current, EventDeleted); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "cannot commit delete")
	}
	return current, nil
}

func (r *Repository) sql(tmpl string) string {
	return sprintf(tmpl, r.kind.Table)
}

func sprintf(tmpl, table string) string {
	out := make([]byte, 0, len(tmpl))
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] == '%' && i+1 < len(tmpl) && tmpl[i+1] == 's' {
			out = append(out, table...)
			i++
			continue
		}
		out = append(out, tmpl[i])
	}
	return string(out)
}

func (r *Repository) fromRow(ro row) (*Resource, error) {
	out := &Resource{
		TypeMeta: metav1.TypeMeta{Kind: ro.Kind, APIVersion: ro.APIVersion},
		Metadata: metav1.ObjectMeta{
			UID:             types.UID(ro.UID),
			Name:            ro.Name,
			Namespace:       ro.Namespace,
			ResourceVersion: formatRV(ro.ResourceVersion),
			Generation:      ro.Generation,
		},
		Spec:   json.RawMessage(ro.Spec),
		Status: json.RawMessage(ro.Status),
	}
	if t, err := parseTime(ro.CreationTimestamp); err == nil {
		out.Metadata.CreationTimestamp = metav1.NewTime(t)
	}
	if ro.DeletionTimestamp.Valid {
		if t, err := parseTime(ro.DeletionTimestamp.String); err == nil {
			mt := metav1.NewTime(t)
			out.Metadata.DeletionTimestamp = &mt
		}
	}
	_ = json.Unmarshal([]byte(ro.Labels), &out.Metadata.Labels)
	_ = json.Unmarshal([]byte(ro.Annotations), &out.Metadata.Annotations)
	_ = json.Unmarshal([]byte(ro.OwnerReferences), &out.Metadata.OwnerReferences)
	return out, nil
}

func metaUID() string {
	return uuid.NewString()
}
