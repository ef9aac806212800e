package store

import "github.com/pkg/errors"

// Registry holds one Repository per catalogue kind plus the ClusterIP
// allocator, and is the single object the API front-end and controllers
// depend on to reach the Store.
type Registry struct {
	DB         *DB
	repos      map[string]*Repository // keyed by Kind
	ClusterIPs *ClusterIPAllocator
}

// NewRegistry builds a Repository for every catalogue entry and rehydrates
// the ClusterIP allocator from persisted Services.
func NewRegistry(db *DB) (*Registry, error) {
	alloc, err := NewClusterIPAllocator()
	if err != nil {
		return nil, err
	}
	reg := &Registry{
		DB:         db,
		repos:      make(map[string]*Repository, len(Catalogue)),
		ClusterIPs: alloc,
	}
	for _, k := range Catalogue {
		reg.repos[k.Kind] = NewRepository(db, k)
	}
	if err := RehydrateFromServices(alloc, reg.repos["Service"]); err != nil {
		return nil, errors.Wrap(err, "cannot rehydrate cluster IP allocator")
	}
	return reg, nil
}

// Repo returns the repository for a kind name, e.g. "Pod".
func (r *Registry) Repo(kind string) (*Repository, bool) {
	repo, ok := r.repos[kind]
	return repo, ok
}

// Pods, Services, Endpoints, ReplicaSets, Deployments are accessed often
// enough by controllers/scheduler/kubelet to deserve named accessors
// instead of a string lookup at every call site.
func (r *Registry) Pods() *Repository        { return r.repos["Pod"] }
func (r *Registry) Services() *Repository     { return r.repos["Service"] }
func (r *Registry) Endpoints() *Repository    { return r.repos["Endpoints"] }
func (r *Registry) ReplicaSets() *Repository  { return r.repos["ReplicaSet"] }
func (r *Registry) Deployments() *Repository  { return r.repos["Deployment"] }
