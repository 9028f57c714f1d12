// Package main is the health probe shipped in the gatekeeper container
// image. Distroless images carry no shell or curl, so the container
// HEALTHCHECK execs this binary instead: it exits 0 when the service's
// /health endpoint answers HTTP 200 and 1 otherwise. The probe honors
// GATEKEEPER_PORT so it follows the same configuration as the server, and
// /health is on the gate's exempt list, so probing never consumes quota.
// Compile with CGO_ENABLED=0 for a fully static binary.
package main

import (
	"net/http"
	"os"
)

func main() {
	port := os.Getenv("GATEKEEPER_PORT")
	if port == "" {
		port = "8080"
	}

	resp, err := http.Get("http://localhost:" + port + "/health")
	if err != nil {
		os.Exit(1)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
