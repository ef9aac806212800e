package store

// KindInfo describes one entry in the kind catalogue: enough for the Store
// to pick a table, for the API front-end to build discovery documents, and
// for controllers to know which kinds they own.
type KindInfo struct {
	Group      string
	Version    string
	Kind       string // e.g. "Pod"
	Resource   string // e.g. "pods", the plural path segment
	Namespaced bool
	Table      string // backing SQL table name
	// Immutable reports whether this kind honors the immutable flag inside
	// its spec: once true, updates that change data are rejected.
	Immutable bool
	// Projected lists the kind-specific columns copied out of the spec
	// document on every write, e.g. replicas for workload kinds or
	// cluster_ip for Service, so operational queries never parse JSON.
	Projected []Projection
}

// Projection maps one top-level spec field onto a dedicated column.
type Projection struct {
	Column    string
	SpecField string
}

func (k KindInfo) APIVersion() string {
	if k.Group == "" {
		return k.Version
	}
	return k.Group + "/" + k.Version
}

// Catalogue is every kind the store knows how to persist. Only
// Deployment/ReplicaSet/Endpoints have active controllers in the core; the
// rest are uniform CRUD, matching the "dozens of handlers, mostly
// identical" observation that motivates a table-driven front-end instead of
// one handler per kind.
var Catalogue = []KindInfo{
	{Version: "v1", Kind: "Namespace", Resource: "namespaces", Namespaced: false, Table: "namespaces"},
	{Version: "v1", Kind: "Node", Resource: "nodes", Namespaced: false, Table: "nodes"},
	{Version: "v1", Kind: "Pod", Resource: "pods", Namespaced: true, Table: "pods"},
	{Version: "v1", Kind: "Service", Resource: "services", Namespaced: true, Table: "services",
		Projected: []Projection{{Column: "cluster_ip", SpecField: "clusterIP"}}},
	{Version: "v1", Kind: "Endpoints", Resource: "endpoints", Namespaced: true, Table: "endpoints"},
	{Version: "v1", Kind: "ConfigMap", Resource: "configmaps", Namespaced: true, Table: "configmaps", Immutable: true},
	{Version: "v1", Kind: "Secret", Resource: "secrets", Namespaced: true, Table: "secrets", Immutable: true},
	{Version: "v1", Kind: "ServiceAccount", Resource: "serviceaccounts", Namespaced: true, Table: "serviceaccounts"},
	{Version: "v1", Kind: "PersistentVolume", Resource: "persistentvolumes", Namespaced: false, Table: "persistentvolumes"},
	{Version: "v1", Kind: "PersistentVolumeClaim", Resource: "persistentvolumeclaims", Namespaced: true, Table: "persistentvolumeclaims"},
	{Version: "v1", Kind: "ResourceQuota", Resource: "resourcequotas", Namespaced: true, Table: "resourcequotas"},
	{Version: "v1", Kind: "LimitRange", Resource: "limitranges", Namespaced: true, Table: "limitranges"},

	{Group: "apps", Version: "v1", Kind: "Deployment", Resource: "deployments", Namespaced: true, Table: "deployments",
		Projected: []Projection{{Column: "replicas", SpecField: "replicas"}}},
	{Group: "apps", Version: "v1", Kind: "ReplicaSet", Resource: "replicasets", Namespaced: true, Table: "replicasets",
		Projected: []Projection{{Column: "replicas", SpecField: "replicas"}}},
	{Group: "apps", Version: "v1", Kind: "StatefulSet", Resource: "statefulsets", Namespaced: true, Table: "statefulsets",
		Projected: []Projection{{Column: "replicas", SpecField: "replicas"}}},
	{Group: "apps", Version: "v1", Kind: "DaemonSet", Resource: "daemonsets", Namespaced: true, Table: "daemonsets"},

	{Group: "batch", Version: "v1", Kind: "Job", Resource: "jobs", Namespaced: true, Table: "jobs"},
	{Group: "batch", Version: "v1", Kind: "CronJob", Resource: "cronjobs", Namespaced: true, Table: "cronjobs",
		Projected: []Projection{{Column: "schedule", SpecField: "schedule"}}},

	{Group: "networking.k8s.io", Version: "v1", Kind: "Ingress", Resource: "ingresses", Namespaced: true, Table: "ingresses"},
	{Group: "networking.k8s.io", Version: "v1", Kind: "NetworkPolicy", Resource: "networkpolicies", Namespaced: true, Table: "networkpolicies"},

	{Group: "rbac.authorization.k8s.io", Version: "v1", Kind: "Role", Resource: "roles", Namespaced: true, Table: "roles"},
	{Group: "rbac.authorization.k8s.io", Version: "v1", Kind: "RoleBinding", Resource: "rolebindings", Namespaced: true, Table: "rolebindings"},
	{Group: "rbac.authorization.k8s.io", Version: "v1", Kind: "ClusterRole", Resource: "clusterroles", Namespaced: false, Table: "clusterroles"},
	{Group: "rbac.authorization.k8s.io", Version: "v1", Kind: "ClusterRoleBinding", Resource: "clusterrolebindings", Namespaced: false, Table: "clusterrolebindings"},

	{Group: "policy", Version: "v1", Kind: "PodDisruptionBudget", Resource: "poddisruptionbudgets", Namespaced: true, Table: "poddisruptionbudgets",
		Projected: []Projection{{Column: "min_available", SpecField: "minAvailable"}, {Column: "max_unavailable", SpecField: "maxUnavailable"}}},

	{Group: "autoscaling", Version: "v1", Kind: "HorizontalPodAutoscaler", Resource: "horizontalpodautoscalers", Namespaced: true, Table: "horizontalpodautoscalers",
		Projected: []Projection{{Column: "min_replicas", SpecField: "minReplicas"}, {Column: "max_replicas", SpecField: "maxReplicas"}}},

	{Group: "scheduling.k8s.io", Version: "v1", Kind: "PriorityClass", Resource: "priorityclasses", Namespaced: false, Table: "priorityclasses"},

	{Group: "storage.k8s.io", Version: "v1", Kind: "StorageClass", Resource: "storageclasses", Namespaced: false, Table: "storageclasses"},

	{Group: "admissionregistration.k8s.io", Version: "v1", Kind: "ValidatingWebhookConfiguration", Resource: "validatingwebhookconfigurations", Namespaced: false, Table: "validatingwebhookconfigurations"},
	{Group: "admissionregistration.k8s.io", Version: "v1", Kind: "MutatingWebhookConfiguration", Resource: "mutatingwebhookconfigurations", Namespaced: false, Table: "mutatingwebhookconfigurations"},
}

// ByResource indexes Catalogue by (group, version, resource) path segments.
func ByResource(group, version, resource string) (KindInfo, bool) {
	for _, k := range Catalogue {
		if k.Group == group && k.Version == version && k.Resource == resource {
			return k, true
		}
	}
	return KindInfo{}, false
}

// ByKind indexes Catalogue by Kind name.
func ByKind(kind string) (KindInfo, bool) {
	for _, k := range Catalogue {
		if k.Kind == kind {
			return k, true
		}
	}
	return KindInfo{}, false
}

// Groups returns the distinct non-core API groups in the catalogue, in a
// stable order, for the /apis discovery document.
func Groups() []string {
	seen := map[string]bool{}
	var groups []string
	for _, k := range Catalogue {
		if k.Group == "" || seen[k.Group] {
			continue
		}
		seen[k.Group] = true
		groups = append(groups, k.Group)
	}
	return groups
}
