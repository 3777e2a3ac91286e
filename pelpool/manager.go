package pelpool

import (
	"sync"

	"github.com/pelicandb/pelican/pelconn"
)

// The process-wide registry of pools, keyed by connection string value.
var (
	managerMu sync.Mutex
	pools     = make(map[string]*Pool)
)

// GetPool returns the pool for config's connection string, creating it on
// first use. Configs built programmatically (no connection string) each get
// a private pool.
func GetPool(config *pelconn.Config) (*Pool, error) {
	key := config.ConnString()
	if key == "" {
		return NewPool(PoolConfig{ConnConfig: config})
	}

	managerMu.Lock()
	defer managerMu.Unlock()

	if p, ok := pools[key]; ok {
		return p, nil
	}
	p, err := NewPool(PoolConfig{ConnConfig: config})
	if err != nil {
		return nil, err
	}
	pools[key] = p
	return p, nil
}

// GetPoolByConnString parses connString and returns its pool.
func GetPoolByConnString(connString string) (*Pool, error) {
	managerMu.Lock()
	if p, ok := pools[connString]; ok {
		managerMu.Unlock()
		return p, nil
	}
	managerMu.Unlock()

	config, err := pelconn.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	return GetPool(config)
}

// CloseAll closes every registered pool and empties the registry.
func CloseAll() {
	managerMu.Lock()
	all := make([]*Pool, 0, len(pools))
	for _, p := range pools {
		all = append(all, p)
	}
	pools = make(map[string]*Pool)
	managerMu.Unlock()

	for _, p := range all {
		p.Close()
	}
}
