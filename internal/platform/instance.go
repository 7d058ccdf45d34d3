package platform

import (
	"fmt"
	"os"
)

// InstanceName identifies one running process of a service, e.g.
// batchrun@worker-3:4211. Several schedulers may share a database, so log
// lines carry this to tell them apart.
func InstanceName(service string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s@%s:%d", service, host, os.Getpid())
}
