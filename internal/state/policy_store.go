// ./internal/state/policy_store.go
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/MRT0B13/NovaOS-sub002/internal/types"
)

// SaveRiskPolicy saves a new version of the risk policy. The policy document
// is stored as one JSONB value so adding a knob never needs a migration.
func SaveRiskPolicy(ctx context.Context, policy types.RiskPolicy, configName string, version int, makeActive bool) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}
	if err := policy.Validate(); err != nil {
		return 0, fmt.Errorf("refusing to save invalid policy: %w", err)
	}

	policyJSON, err := json.Marshal(policy)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal risk policy: %w", err)
	}

	tx, err := DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			tx.Rollback()
		}
	}()

	if makeActive {
		stmtDeactivate := `UPDATE risk_policies SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE;`
		_, err = tx.ExecContext(ctx, stmtDeactivate, configName)
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active policy for %s: %w", configName, err)
		}
	}

	stmt := `
		INSERT INTO risk_policies (version, config_name, is_active, activated_at, created_at, policy)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING policy_id;`

	var policyID int64
	now := time.Now()
	err = tx.QueryRowContext(ctx, stmt, version, configName, makeActive, now, now, policyJSON).Scan(&policyID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert risk policy: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Int("version", version).
		Str("config", configName).
		Int64("policy_id", policyID).
		Bool("active", makeActive).
		Msg("Saved risk policy")
	return policyID, nil
}

// LoadActiveRiskPolicy loads the currently active risk policy for a config
// name. Returns sql.ErrNoRows (wrapped) when none is active.
func LoadActiveRiskPolicy(ctx context.Context, configName string) (types.RiskPolicy, int, error) {
	if DB == nil {
		return types.RiskPolicy{}, 0, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT policy, version
		FROM risk_policies
		WHERE config_name = $1 AND is_active = TRUE
		ORDER BY activated_at DESC
		LIMIT 1;`

	var (
		policyJSON []byte
		version    int
	)
	err := DB.QueryRowContext(ctx, query, configName).Scan(&policyJSON, &version)
	if err != nil {
		return types.RiskPolicy{}, 0, fmt.Errorf("failed to load active risk policy for %s: %w", configName, err)
	}

	var policy types.RiskPolicy
	if err := json.Unmarshal(policyJSON, &policy); err != nil {
		return types.RiskPolicy{}, 0, fmt.Errorf("failed to unmarshal risk policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return types.RiskPolicy{}, 0, fmt.Errorf("stored policy failed validation: %w", err)
	}

	log.Info().Str("config", configName).Int("version", version).Msg("Loaded active risk policy")
	return policy, version, nil
}

// LoadOrSaveDefaultPolicy returns the active policy, saving and activating the
// provided default (as version 1) when none exists yet.
func LoadOrSaveDefaultPolicy(ctx context.Context, configName string, fallback types.RiskPolicy) (types.RiskPolicy, error) {
	policy, _, err := LoadActiveRiskPolicy(ctx, configName)
	if err == nil {
		return policy, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return types.RiskPolicy{}, err
	}

	log.Warn().Str("config", configName).Msg("No active risk policy found, saving default")
	if _, err := SaveRiskPolicy(ctx, fallback, configName, 1, true); err != nil {
		return types.RiskPolicy{}, err
	}
	return fallback, nil
}
