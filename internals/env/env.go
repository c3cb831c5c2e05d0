package env

import (
	"log"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	z "github.com/Oudwins/zog"
	"github.com/Oudwins/zog/zenv"
)

type EnvStruct struct {
	API_KEY           string `zog:"RESEARCH_API_KEY"`
	MODEL             string `zog:"RESEARCH_MODEL"`
	THINK_MODEL       string `zog:"RESEARCH_THINK_MODEL"`
	DB_PATH           string `zog:"RESEARCH_DB_PATH"`
	POLL_INTERVAL_MAX int    `zog:"RESEARCH_POLL_INTERVAL_MAX"`
	API_BASE_URL      string `zog:"RESEARCH_API_BASE_URL"`
	MCP_SERVERS       string `zog:"RESEARCH_MCP_SERVERS"`
	WORKSPACE         string `zog:"RESEARCH_WORKSPACE"`
	DEBUG             bool   `zog:"RESEARCH_DEBUG"`
}

var env *EnvStruct

var EnvSchema = z.Struct(z.Shape{
	"API_KEY":           z.String().Optional(),
	"MODEL":             z.String().Default("deep-research-pro-preview-12-2025"),
	"THINK_MODEL":       z.String().Default("gemini-2.0-flash-thinking-exp"),
	"DB_PATH":           z.String().Optional(),
	"POLL_INTERVAL_MAX": z.Int().Default(10),
	"API_BASE_URL":      z.String().Default("https://generativelanguage.googleapis.com/v1alpha"),
	"MCP_SERVERS":       z.String().Optional(),
	"WORKSPACE":         z.String().Optional(),
	"DEBUG":             z.Bool().Optional(),
})

func Get() *EnvStruct {
	if env == nil {
		env = &EnvStruct{}
		errs := EnvSchema.Parse(zenv.NewDataProvider(), env)
		if errs != nil {
			log.Fatal("[Research] Failed to parse environment variables", errs)
		}

		if env.DB_PATH == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				log.Fatal("[Research] Failed to resolve home directory", err)
			}
			env.DB_PATH = filepath.Join(home, ".research", "history.db")
		}
		if env.WORKSPACE == "" {
			cwd, err := os.Getwd()
			if err != nil {
				log.Fatal("[Research] Failed to resolve working directory", err)
			}
			env.WORKSPACE = cwd
		}
		if env.POLL_INTERVAL_MAX < 1 {
			env.POLL_INTERVAL_MAX = 1
		}
	}
	return env
}

// PollIntervalMax is the backoff delay cap for the polling fallback.
func (e *EnvStruct) PollIntervalMax() time.Duration {
	return time.Duration(e.POLL_INTERVAL_MAX) * time.Second
}

// BaseURLFor swaps the API version segment of the base URL. With the empty
// version the configured URL is returned unchanged.
func (e *EnvStruct) BaseURLFor(version string) string {
	base := strings.TrimRight(e.API_BASE_URL, "/")
	if version == "" {
		return base
	}
	u, err := url.Parse(base)
	if err != nil || u.Path == "" || u.Path == "/" {
		return base + "/" + version
	}
	u.Path = path.Join(path.Dir(u.Path), version)
	return u.String()
}

// MCPServerList splits RESEARCH_MCP_SERVERS, dropping empty entries. The
// values are opaque endpoints passed through to the service unmodified.
func (e *EnvStruct) MCPServerList() []string {
	if strings.TrimSpace(e.MCP_SERVERS) == "" {
		return nil
	}
	var servers []string
	for _, s := range strings.Split(e.MCP_SERVERS, ",") {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	return servers
}
