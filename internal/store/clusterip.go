package store

import (
	"encoding/json"
	"net"
	"sync"

	"github.com/pkg/errors"
)

// ClusterIPRange is the fixed private range ClusterIP addresses are drawn
// from, per the Service kind's allocation contract.
const ClusterIPRange = "10.96.0.0/24"

// ClusterIPAllocator hands out stable virtual addresses to ClusterIP
// Services. It is a process-wide singleton in spirit but, per the
// no-ambient-globals design note, is modeled as an owned value held by the
// Service repository with a single entry point, never a package-level
// global.
type ClusterIPAllocator struct {
	mu        sync.Mutex
	network   *net.IPNet
	allocated map[string]bool
}

// NewClusterIPAllocator builds an empty allocator over ClusterIPRange.
func NewClusterIPAllocator() (*ClusterIPAllocator, error) {
	_, network, err := net.ParseCIDR(ClusterIPRange)
	if err != nil {
		return nil, errors.Wrap(err, "cannot parse cluster IP range")
	}
	return &ClusterIPAllocator{
		network:   network,
		allocated: map[string]bool{},
	}, nil
}

// Rehydrate replays already-allocated addresses from persisted Services,
// so the allocator is consistent with the store before accepting traffic.
func (a *ClusterIPAllocator) Rehydrate(ips []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ip := range ips {
		if ip == "" {
			continue
		}
		a.allocated[ip] = true
	}
}

// Allocate picks the lowest free address in the range. The critical
// section is short and never suspends: no network or store call happens
// while the lock is held.
func (a *ClusterIPAllocator) Allocate() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	candidate := cloneIP(a.network.IP)
	for a.network.Contains(candidate) {
		s := candidate.String()
		if !a.allocated[s] && !isNetworkOrBroadcast(candidate, a.network) {
			a.allocated[s] = true
			return s, nil
		}
		candidate = incIP(candidate)
	}
	return "", errors.New("cluster IP range exhausted")
}

// Release returns an address to the free pool.
func (a *ClusterIPAllocator) Release(ip string) {
	if ip == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.allocated, ip)
}

func isNetworkOrBroadcast(ip net.IP, network *net.IPNet) bool {
	if ip.Equal(network.IP) {
		return true
	}
	broadcast := cloneIP(network.IP)
	mask := network.Mask
	for i := range broadcast {
		if i < len(mask) {
			broadcast[i] |= ^mask[i]
		}
	}
	return ip.Equal(broadcast)
}

func cloneIP(ip net.IP) net.IP {
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}

func incIP(ip net.IP) net.IP {
	out := cloneIP(ip)
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			break
		}
	}
	return out
}

// RehydrateFromServices lists every live Service in repo and replays its
// spec.clusterIP into the allocator. Called once at startup before the API
// front-end accepts traffic.
func RehydrateFromServices(alloc *ClusterIPAllocator, repo *Repository) error {
	list, err := repo.List("")
	if err != nil {
		return errors.Wrap(err, "cannot list services to rehydrate cluster IPs")
	}
	var ips []string
	for _, svc := range list.Items {
		var spec struct {
			ClusterIP string `json:"clusterIP"`
		}
		if err := json.Unmarshal(svc.Spec, &spec); err != nil {
			continue
		}
		if spec.ClusterIP != "" {
			ips = append(ips, spec.ClusterIP)
		}
	}
	alloc.Rehydrate(ips)
	return nil
}
