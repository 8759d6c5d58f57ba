package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks that the settings required by the given run mode are
// present and sane. Problems are aggregated so the operator sees the
// whole list at once.
func (c *Config) Validate(mode string) error {
	var problems []string

	needDB := func() {
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	}
	needProvider := func() {
		if c.Nylas.Key == "" {
			problems = append(problems, "nylas.key is required")
		}
	}
	needLLM := func() {
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
	}
	needBot := func() {
		if c.Recall.Key == "" {
			problems = append(problems, "recall.key is required")
		}
	}
	checkWorkers := func() {
		for _, w := range []struct {
			name string
			n    int
		}{
			{"worker.page_workers", c.Worker.PageWorkers},
			{"worker.stage_workers", c.Worker.StageWorkers},
			{"worker.summary_workers", c.Worker.SummaryWorkers},
			{"worker.meeting_workers", c.Worker.MeetingWorkers},
		} {
			if w.n < 1 || w.n > 32 {
				problems = append(problems, w.name+" must be between 1 and 32")
			}
		}
	}
	checkPipeline := func() {
		if c.Pipeline.ChunkTokenLimit < 500 {
			problems = append(problems, "pipeline.chunk_token_limit must be >= 500")
		}
		if c.Summarize.MapConcurrency < 1 {
			problems = append(problems, "summarize.map_concurrency must be >= 1")
		}
	}

	switch mode {
	case "serve":
		needDB()
		needProvider()
		needLLM()
		needBot()
		checkWorkers()
		checkPipeline()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "worker":
		needDB()
		needProvider()
		needLLM()
		needBot()
		checkWorkers()
		checkPipeline()
	case "sync":
		needDB()
		needProvider()
	case "migrate", "status", "retry", "meetings", "accounts":
		needDB()
	case "export":
		needDB()
		if c.Salesforce.ClientID == "" {
			problems = append(problems, "salesforce.client_id is required")
		}
		if c.Salesforce.Username == "" {
			problems = append(problems, "salesforce.username is required")
		}
		if c.Salesforce.KeyPath == "" {
			problems = append(problems, "salesforce.key_path is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}
