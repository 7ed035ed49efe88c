package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration and fails fast with sentinel errors.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d not in [1, 65535]", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgresDBName)
	}

	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidEmbedderModel)
	}

	if c.Ingestion.Workers < 1 {
		return fmt.Errorf("%w: ingestion workers = %d", ErrInvalidWorkerCount, c.Ingestion.Workers)
	}
	if c.Embedding.Workers < 1 {
		return fmt.Errorf("%w: embedding workers = %d", ErrInvalidWorkerCount, c.Embedding.Workers)
	}
	if c.Embedding.BatchSize < 1 {
		return fmt.Errorf("%w: embedding batch size = %d", ErrInvalidWorkerCount, c.Embedding.BatchSize)
	}

	r := c.Retrieval
	if r.Alpha < 0 || r.Beta < 0 || r.Gamma < 0 {
		return fmt.Errorf("%w: negative weight (alpha=%g beta=%g gamma=%g)",
			ErrInvalidWeights, r.Alpha, r.Beta, r.Gamma)
	}
	if r.Alpha+r.Beta+r.Gamma == 0 {
		return fmt.Errorf("%w: all weights are zero", ErrInvalidWeights)
	}
	if r.DefaultTopK < 1 {
		return fmt.Errorf("%w: default top-k = %d", ErrInvalidWeights, r.DefaultTopK)
	}

	if c.Context.HistoryMessages < 1 {
		return fmt.Errorf("%w: history messages = %d", ErrInvalidBudget, c.Context.HistoryMessages)
	}
	if c.Context.BudgetChars < 1 {
		return fmt.Errorf("%w: budget chars = %d", ErrInvalidBudget, c.Context.BudgetChars)
	}

	return nil
}
