package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/batchflow/internal/store"
	"github.com/kiranshivaraju/batchflow/pkg/models"
)

// ErrInvalidDefinition is returned when a definition is missing required
// fields. Like ErrInvalidResourceRequest it is raised before any external call.
var ErrInvalidDefinition = errors.New("invalid job definition")

// Limits are the resource ceilings enforced at registration time.
type Limits struct {
	VCPUsMax     int32
	MemoryMaxMiB int32
}

// Registrar validates job definitions, registers them with the batch service
// and records them in the store. Registered definitions are immutable; the
// batch service assigns a fresh revision on every registration of a name.
type Registrar struct {
	api           API
	store         store.Store
	limits        Limits
	datasetBucket string
	outputBucket  string
	logger        *slog.Logger
}

func NewRegistrar(api API, st store.Store, limits Limits, datasetBucket, outputBucket string, logger *slog.Logger) *Registrar {
	return &Registrar{
		api:           api,
		store:         st,
		limits:        limits,
		datasetBucket: datasetBucket,
		outputBucket:  outputBucket,
		logger:        logger,
	}
}

// Register validates def, registers it externally and persists the resulting
// revision. On success def is updated in place with ID, ExternalRef and
// Revision. Resource requests above the configured ceilings are rejected with
// ErrInvalidResourceRequest before anything is sent to the batch service.
func (r *Registrar) Register(ctx context.Context, def *models.JobDefinition) error {
	if err := r.validate(def); err != nil {
		return err
	}

	// The bucket entries are appended last so a caller-supplied entry of the
	// same name never wins over the engine's.
	def.Environment = append(def.Environment,
		models.EnvVar{Name: "BATCHFLOW_DATASET_BUCKET", Value: r.datasetBucket},
		models.EnvVar{Name: "BATCHFLOW_OUTPUT_BUCKET", Value: r.outputBucket},
	)

	ref, revision, err := r.api.RegisterJobDefinition(ctx, def)
	if err != nil {
		return fmt.Errorf("external registration: %w", err)
	}

	def.ID = uuid.New()
	def.ExternalRef = ref
	def.Revision = revision

	if err := r.store.CreateJobDefinition(ctx, def); err != nil {
		return fmt.Errorf("persist job definition: %w", err)
	}

	r.logger.Info("job definition registered",
		"name", def.Name,
		"revision", def.Revision,
		"external_ref", def.ExternalRef)

	return nil
}

// Disable soft-deletes every revision of the named definition and deregisters
// each one from the batch service. External deregistration failures are logged
// and do not abort the disable; the store rows are the source of truth for
// what the engine will submit against.
func (r *Registrar) Disable(ctx context.Context, name string) error {
	defs, err := r.store.ListJobDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("list job definitions: %w", err)
	}

	found := false
	for _, def := range defs {
		if def.Name != name {
			continue
		}
		found = true
		if err := r.api.DeregisterJobDefinition(ctx, def.ExternalRef); err != nil {
			r.logger.Warn("deregister failed, disabling anyway",
				"external_ref", def.ExternalRef,
				"error", err)
		}
	}
	if !found {
		return store.ErrNotFound
	}

	return r.store.DisableJobDefinition(ctx, name)
}

func (r *Registrar) validate(def *models.JobDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if def.Image == "" {
		return fmt.Errorf("%w: image is required", ErrInvalidDefinition)
	}
	if len(def.AnalysisLevels) == 0 {
		return fmt.Errorf("%w: at least one analysis level is required", ErrInvalidDefinition)
	}
	for _, lvl := range def.AnalysisLevels {
		if lvl.Name == "" {
			return fmt.Errorf("%w: analysis level name is required", ErrInvalidDefinition)
		}
	}
	if def.VCPUs <= 0 || def.MemoryMiB <= 0 {
		return fmt.Errorf("%w: vcpus and memory_mib must be positive", ErrInvalidDefinition)
	}
	if def.VCPUs > r.limits.VCPUsMax {
		return fmt.Errorf("%w: %d vcpus requested, ceiling is %d",
			ErrInvalidResourceRequest, def.VCPUs, r.limits.VCPUsMax)
	}
	if def.MemoryMiB > r.limits.MemoryMaxMiB {
		return fmt.Errorf("%w: %d MiB requested, ceiling is %d",
			ErrInvalidResourceRequest, def.MemoryMiB, r.limits.MemoryMaxMiB)
	}
	return nil
}
