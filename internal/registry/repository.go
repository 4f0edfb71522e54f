// Package registry is the durable, versioned store of genomes, their lineage,
// and recorded evaluation metrics. Every write is transactional: a metrics
// write and its derived aggregate update succeed or fail together.
package registry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantlab/alphaevolve/internal/database"
	"github.com/quantlab/alphaevolve/internal/domain"
)

// Repository handles all registry reads and writes. Concurrent writes for
// different genomes never block each other beyond sqlite's own write lock;
// each write holds a transaction only for its own rows.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a registry repository and applies the schema.
func NewRepository(db *database.DB, log zerolog.Logger) (*Repository, error) {
	if err := db.ApplySchema(Schema); err != nil {
		return nil, fmt.Errorf("failed to initialize registry schema: %w", err)
	}

	return &Repository{
		db:  db.Conn(),
		log: log.With().Str("repository", "registry").Logger(),
	}, nil
}

// Save persists a genome and always assigns a fresh id, which is also
// written back into the returned copy. The note is stored on the genome's
// description when the genome carries none.
func (r *Repository) Save(g domain.Genome, note string) (string, error) {
	id := uuid.New().String()
	now := time.Now().Unix()

	desc := g.Description
	if desc == "" {
		desc = note
	}

	params, err := json.Marshal(g.Parameters)
	if err != nil {
		return "", fmt.Errorf("failed to serialize genome parameters: %w", err)
	}
	parents, err := json.Marshal(g.ParentIDs)
	if err != nil {
		return "", fmt.Errorf("failed to serialize parent ids: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO genomes
		(id, name, description, source, parameters, parent_ids, generation, fitness, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, g.Name, desc, g.Source, string(params), string(parents), g.Generation, g.Fitness, now, now)
	if err != nil {
		return "", fmt.Errorf("failed to insert genome %s: %w", g.Name, err)
	}

	return id, nil
}

// CreateVersion snapshots the genome's source and parameters as a new
// immutable version with a monotonically increasing version number.
//
// When the content hash equals the current version's hash the mutation was a
// no-op: no new version is created and the existing current version is
// returned instead.
func (r *Repository) CreateVersion(genomeID, source string, parameters map[string]float64, note string) (*Version, error) {
	hash := CommitHash(source, parameters)

	var created *Version
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var currentID sql.NullString
		err := tx.QueryRow(`SELECT current_version_id FROM genomes WHERE id = ?`, genomeID).Scan(&currentID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("genome %s not found", genomeID)
		}
		if err != nil {
			return fmt.Errorf("failed to load genome %s: %w", genomeID, err)
		}

		// No-op mutation detection via content hash
		if currentID.Valid {
			current, err := scanVersion(tx.QueryRow(versionSelect+` WHERE id = ?`, currentID.String))
			if err != nil {
				return fmt.Errorf("failed to load current version %s: %w", currentID.String, err)
			}
			if current.CommitHash == hash {
				created = current
				return nil
			}
		}

		var maxNum sql.NullInt64
		if err := tx.QueryRow(`SELECT MAX(version_number) FROM genome_versions WHERE genome_id = ?`, genomeID).Scan(&maxNum); err != nil {
			return fmt.Errorf("failed to determine next version number: %w", err)
		}

		params, err := json.Marshal(parameters)
		if err != nil {
			return fmt.Errorf("failed to serialize version parameters: %w", err)
		}

		v := &Version{
			ID:            uuid.New().String(),
			GenomeID:      genomeID,
			VersionNumber: int(maxNum.Int64) + 1,
			CommitHash:    hash,
			Source:        source,
			Parameters:    parameters,
			Note:          note,
			ValidationOK:  true,
			CreatedAt:     time.Now(),
		}
		if currentID.Valid {
			v.ParentVersionID = currentID.String
		}

		_, err = tx.Exec(`
			INSERT INTO genome_versions
			(id, genome_id, version_number, parent_version_id, commit_hash, source, parameters, note, validation_passed, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		`, v.ID, v.GenomeID, v.VersionNumber, nullable(v.ParentVersionID), v.CommitHash, v.Source, string(params), v.Note, v.CreatedAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to insert version: %w", err)
		}

		_, err = tx.Exec(`
			UPDATE genomes SET current_version_id = ?, source = ?, parameters = ?, updated_at = ? WHERE id = ?
		`, v.ID, source, string(params), time.Now().Unix(), genomeID)
		if err != nil {
			return fmt.Errorf("failed to update current version pointer: %w", err)
		}

		created = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// RecordMetrics appends one per-market metrics record and atomically updates
// the genome's aggregate fitness and test count in the same transaction.
//
// recordFitness is the composite score the caller computed for this record;
// the genome's stored fitness becomes the running mean across all its
// recorded tests.
func (r *Repository) RecordMetrics(genomeID, versionID string, rec domain.MetricsRecord, recordFitness float64) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("refusing to record invalid metrics: %w", err)
	}

	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize metrics record: %w", err)
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var fitness float64
		var totalTests int
		var marketsJSON string
		err := tx.QueryRow(`SELECT fitness, total_tests, markets_tested FROM genomes WHERE id = ?`, genomeID).
			Scan(&fitness, &totalTests, &marketsJSON)
		if err == sql.ErrNoRows {
			return fmt.Errorf("genome %s not found", genomeID)
		}
		if err != nil {
			return fmt.Errorf("failed to load genome aggregates: %w", err)
		}

		recID := rec.ID
		if recID == "" {
			recID = uuid.New().String()
		}

		_, err = tx.Exec(`
			INSERT INTO metric_records
			(id, genome_id, version_id, market, timeframe, window_start, window_end, metrics_blob, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, recID, genomeID, versionID, rec.Market, rec.Timeframe,
			rec.WindowStart.Unix(), rec.WindowEnd.Unix(), string(blob), time.Now().Unix())
		if err != nil {
			return fmt.Errorf("failed to insert metrics record: %w", err)
		}

		// Running mean over all recorded tests
		newFitness := (fitness*float64(totalTests) + recordFitness) / float64(totalTests+1)

		var markets []string
		if err := json.Unmarshal([]byte(marketsJSON), &markets); err != nil {
			markets = nil
		}
		markets = appendUnique(markets, rec.Market)
		updatedMarkets, err := json.Marshal(markets)
		if err != nil {
			return fmt.Errorf("failed to serialize markets list: %w", err)
		}

		_, err = tx.Exec(`
			UPDATE genomes SET fitness = ?, total_tests = ?, markets_tested = ?, updated_at = ? WHERE id = ?
		`, newFitness, totalTests+1, string(updatedMarkets), time.Now().Unix(), genomeID)
		if err != nil {
			return fmt.Errorf("failed to update genome aggregates: %w", err)
		}

		return nil
	})
}

// SetFitness overwrites the genome's stored fitness. The evolutionary loop
// uses this after composite scoring so the leaderboard reflects the profile
// in force rather than raw per-record means.
func (r *Repository) SetFitness(genomeID string, fitness float64) error {
	res, err := r.db.Exec(`UPDATE genomes SET fitness = ?, updated_at = ? WHERE id = ?`,
		fitness, time.Now().Unix(), genomeID)
	if err != nil {
		return fmt.Errorf("failed to set fitness for %s: %w", genomeID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("genome %s not found", genomeID)
	}
	return nil
}

// MarkReady flips the deployment-ready flag on a version and mirrors the
// aggregate deployment score onto the genome.
func (r *Repository) MarkReady(genomeID, versionID string, ready bool, deploymentScore float64) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		readyInt := 0
		if ready {
			readyInt = 1
		}

		res, err := tx.Exec(`UPDATE genome_versions SET deployment_ready = ? WHERE id = ? AND genome_id = ?`,
			readyInt, versionID, genomeID)
		if err != nil {
			return fmt.Errorf("failed to mark version ready: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("version %s not found for genome %s", versionID, genomeID)
		}

		_, err = tx.Exec(`UPDATE genomes SET deployment_score = ?, updated_at = ? WHERE id = ?`,
			deploymentScore, time.Now().Unix(), genomeID)
		if err != nil {
			return fmt.Errorf("failed to update deployment score: %w", err)
		}

		return nil
	})
}

// Top returns the n best genomes with at least minTests recorded tests,
// ranked by fitness descending with ties broken by the number of distinct
// markets tested, descending. An optional market filter keeps only genomes
// that were tested on that market.
func (r *Repository) Top(n, minTests int, marketFilter string) ([]LeaderboardEntry, error) {
	rows, err := r.db.Query(`
		SELECT id, name, fitness, total_tests, markets_tested, generation, COALESCE(current_version_id, '')
		FROM genomes
		WHERE total_tests >= ?
		ORDER BY fitness DESC
	`, minTests)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		var marketsJSON string
		if err := rows.Scan(&e.GenomeID, &e.Name, &e.Fitness, &e.TotalTests, &marketsJSON, &e.Generation, &e.CurrentVerID); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		if err := json.Unmarshal([]byte(marketsJSON), &e.MarketsTested); err != nil {
			e.MarketsTested = nil
		}

		if marketFilter != "" && !containsMarket(e.MarketsTested, marketFilter) {
			continue
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leaderboard iteration failed: %w", err)
	}

	// Fitness ordering comes from SQL; apply the distinct-markets tie-break
	// here where the deserialized list is available.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Fitness != entries[j].Fitness {
			return entries[i].Fitness > entries[j].Fitness
		}
		return len(entries[i].MarketsTested) > len(entries[j].MarketsTested)
	})

	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

// Get loads a genome by id.
func (r *Repository) Get(genomeID string) (*domain.Genome, error) {
	var g domain.Genome
	var paramsJSON, parentsJSON string
	err := r.db.QueryRow(`
		SELECT id, name, description, source, parameters, parent_ids, generation, fitness
		FROM genomes WHERE id = ?
	`, genomeID).Scan(&g.ID, &g.Name, &g.Description, &g.Source, &paramsJSON, &parentsJSON, &g.Generation, &g.Fitness)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("genome %s not found", genomeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load genome %s: %w", genomeID, err)
	}

	if err := json.Unmarshal([]byte(paramsJSON), &g.Parameters); err != nil {
		return nil, fmt.Errorf("corrupt parameters for genome %s: %w", genomeID, err)
	}
	if err := json.Unmarshal([]byte(parentsJSON), &g.ParentIDs); err != nil {
		return nil, fmt.Errorf("corrupt parent ids for genome %s: %w", genomeID, err)
	}

	return &g, nil
}

// CurrentVersion returns the genome's current version, or an error when the
// genome has no versions yet.
func (r *Repository) CurrentVersion(genomeID string) (*Version, error) {
	var currentID sql.NullString
	err := r.db.QueryRow(`SELECT current_version_id FROM genomes WHERE id = ?`, genomeID).Scan(&currentID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("genome %s not found", genomeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load genome %s: %w", genomeID, err)
	}
	if !currentID.Valid {
		return nil, fmt.Errorf("genome %s has no versions", genomeID)
	}
	return r.GetVersion(currentID.String)
}

// GetVersion loads a version by id.
func (r *Repository) GetVersion(versionID string) (*Version, error) {
	v, err := scanVersion(r.db.QueryRow(versionSelect+` WHERE id = ?`, versionID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("version %s not found", versionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load version %s: %w", versionID, err)
	}
	return v, nil
}

// Lineage returns the version chain of a genome from the current version back
// to the root, newest first. The walk is bounded so a corrupt parent cycle
// cannot loop forever.
func (r *Repository) Lineage(genomeID string) ([]*Version, error) {
	current, err := r.CurrentVersion(genomeID)
	if err != nil {
		return nil, err
	}

	const maxDepth = 10000
	chain := []*Version{current}
	for depth := 0; current.ParentVersionID != "" && depth < maxDepth; depth++ {
		parent, err := r.GetVersion(current.ParentVersionID)
		if err != nil {
			return nil, fmt.Errorf("lineage walk broke at version %s: %w", current.ParentVersionID, err)
		}
		chain = append(chain, parent)
		current = parent
	}
	return chain, nil
}

// RecordsForVersion loads all metric records appended for a version.
func (r *Repository) RecordsForVersion(versionID string) ([]domain.MetricsRecord, error) {
	rows, err := r.db.Query(`SELECT metrics_blob FROM metric_records WHERE version_id = ? ORDER BY created_at`, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query metric records: %w", err)
	}
	defer rows.Close()

	var records []domain.MetricsRecord
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("failed to scan metrics blob: %w", err)
		}
		var rec domain.MetricsRecord
		if err := json.Unmarshal([]byte(blob), &rec); err != nil {
			return nil, fmt.Errorf("corrupt metrics blob for version %s: %w", versionID, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

const versionSelect = `
	SELECT id, genome_id, version_number, COALESCE(parent_version_id, ''), commit_hash,
	       source, parameters, note, deployment_ready, validation_passed, created_at
	FROM genome_versions`

// rowScanner abstracts *sql.Row and *sql.Rows for scanVersion.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVersion(row rowScanner) (*Version, error) {
	var v Version
	var paramsJSON string
	var ready, valid int
	var createdAt int64
	err := row.Scan(&v.ID, &v.GenomeID, &v.VersionNumber, &v.ParentVersionID, &v.CommitHash,
		&v.Source, &paramsJSON, &v.Note, &ready, &valid, &createdAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(paramsJSON), &v.Parameters); err != nil {
		return nil, fmt.Errorf("corrupt parameters for version %s: %w", v.ID, err)
	}
	v.DeploymentReady = ready != 0
	v.ValidationOK = valid != 0
	v.CreatedAt = time.Unix(createdAt, 0)
	return &v, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func appendUnique(list []string, item string) []string {
	for _, v := range list {
		if v == item {
			return list
		}
	}
	list = append(list, item)
	sort.Strings(list)
	return list
}

func containsMarket(markets []string, filter string) bool {
	for _, m := range markets {
		if m == filter || strings.HasPrefix(m, filter+"@") {
			return true
		}
	}
	return false
}
