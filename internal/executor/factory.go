package executor

import (
	"fmt"
	"io"

	"github.com/ShayCichocki/theoremlib/internal/config"
	"github.com/ShayCichocki/theoremlib/pkg/models"
)

// New builds the executor selected by cfg.Backend. The dagger backend
// requires an empty cfg.Network.
func New(cfg config.ExecutorConfig, logOutput io.Writer) (Executor, error) {
	switch cfg.Backend {
	case "docker":
		return NewDocker(cfg.TeardownTimeout)
	case "dagger":
		if cfg.Network != "" {
			return nil, fmt.Errorf("dagger backend cannot join network %q; set executor.network to \"\"", cfg.Network)
		}
		return NewDagger(logOutput), nil
	case "process":
		return NewProcess(nil), nil
	default:
		return nil, fmt.Errorf("unknown executor backend %q", cfg.Backend)
	}
}

// EnvFor builds the environment that runs job under cfg.
func EnvFor(project string, cfg config.ExecutorConfig, job models.Job) Env {
	kc := cfg.Kind(job.Kind)
	return Env{
		Name:    EnvName(project, job.Kind, job.ID),
		Image:   kc.Image,
		Network: cfg.Network,
		Command: append([]string(nil), kc.Command...),
		Vars:    JobVars(job),
	}
}
