package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Version is an immutable, content-hashed snapshot of a genome's source and
// parameters. Version numbers increase monotonically within a lineage; the
// parent reference is lookup-only (never loaded eagerly).
type Version struct {
	ID              string
	GenomeID        string
	VersionNumber   int
	ParentVersionID string
	CommitHash      string
	Source          string
	Parameters      map[string]float64
	Note            string
	DeploymentReady bool
	ValidationOK    bool
	CreatedAt       time.Time
}

// LeaderboardEntry is one row of the Top query.
type LeaderboardEntry struct {
	GenomeID      string
	Name          string
	Fitness       float64
	TotalTests    int
	MarketsTested []string
	Generation    int
	CurrentVerID  string
}

// CommitHash produces a stable content hash over source and parameters.
// Parameters are serialized in sorted key order so two maps with identical
// content always hash the same; this is what no-op mutation detection
// relies on.
func CommitHash(source string, parameters map[string]float64) string {
	keys := make([]string, 0, len(parameters))
	for k := range parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(source))
	for _, k := range keys {
		fmt.Fprintf(h, "\n%s=%s", k, strconv.FormatFloat(parameters[k], 'g', -1, 64))
	}
	return hex.EncodeToString(h.Sum(nil))
}
