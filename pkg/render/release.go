package render

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/openfroyo/deployer/pkg/environment"
	"github.com/openfroyo/deployer/pkg/telemetry"
)

// Container images of a release.
const (
	TrackerImage    = "torrust/tracker:develop"
	MySQLImage      = "mysql:8.0"
	PrometheusImage = "prom/prometheus:v3.0.1"
	GrafanaImage    = "grafana/grafana:11.4.0"
)

const (
	trackerDBDir      = "/var/lib/torrust/tracker/database"
	trackerHealthPort = 1313
	grafanaHostPort   = 3100
)

type composeFile struct {
	Name     string                    `yaml:"name"`
	Services map[string]composeService `yaml:"services"`
}

type composeService struct {
	Image       string              `yaml:"image"`
	Restart     string              `yaml:"restart"`
	Command     []string            `yaml:"command,omitempty"`
	EnvFile     []string            `yaml:"env_file,omitempty"`
	Environment []string            `yaml:"environment,omitempty"`
	Ports       []string            `yaml:"ports,omitempty"`
	Volumes     []string            `yaml:"volumes,omitempty"`
	DependsOn   map[string]depends  `yaml:"depends_on,omitempty"`
	Healthcheck *composeHealthcheck `yaml:"healthcheck,omitempty"`
}

type depends struct {
	Condition string `yaml:"condition"`
}

type composeHealthcheck struct {
	Test     []string `yaml:"test"`
	Interval string   `yaml:"interval"`
	Timeout  string   `yaml:"timeout"`
	Retries  int      `yaml:"retries"`
}

type trackerConfig struct {
	DatabaseDriver string
	DatabasePath   string
	UDPPorts       []int
	HTTPPorts      []int
	APIPort        int
}

type prometheusConfig struct {
	Global        prometheusGlobal `yaml:"global"`
	ScrapeConfigs []scrapeConfig   `yaml:"scrape_configs"`
}

type prometheusGlobal struct {
	ScrapeInterval string `yaml:"scrape_interval"`
}

type scrapeConfig struct {
	JobName     string              `yaml:"job_name"`
	MetricsPath string              `yaml:"metrics_path"`
	Params      map[string][]string `yaml:"params,omitempty"`
	Static      []staticConfig      `yaml:"static_configs"`
}

type staticConfig struct {
	Targets []string `yaml:"targets"`
}

// RenderRelease rebuilds ReleaseDir and returns it. The directory mirrors
// the application directory on the instance.
func (r *Renderer) RenderRelease(ctx context.Context, env environment.Context, ip netip.Addr) (string, error) {
	dir := ReleaseDir(env)
	err := telemetry.RecordToolInvocation(ctx, "render", "release", func(ctx context.Context) error {
		return withContext(ctx, func() error { return r.renderRelease(env, ip, dir) })
	})
	if err != nil {
		return "", err
	}
	return dir, nil
}

func (r *Renderer) renderRelease(env environment.Context, ip netip.Addr, dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear %s: %w", dir, err)
	}

	tracker := env.UserInputs.Tracker
	mysql := tracker.Database == "mysql"

	tc := trackerConfig{
		DatabaseDriver: "sqlite3",
		DatabasePath:   trackerDBDir + "/tracker.db",
		UDPPorts:       tracker.UDPPorts,
		HTTPPorts:      tracker.HTTPPorts,
		APIPort:        tracker.APIPort,
	}
	if mysql {
		tc.DatabaseDriver = "mysql"
		tc.DatabasePath = "mysql://torrust@mysql:3306/torrust_tracker"
	}
	tomlPath := filepath.Join(dir, "storage", "tracker", "etc", "tracker.toml")
	if err := r.execute("release/tracker.toml.tmpl", tomlPath, tc, fileMode); err != nil {
		return err
	}

	dotenv := r.envFile(env)
	if err := writeFile(filepath.Join(dir, ".env"), []byte(dotenv), secretMode); err != nil {
		return err
	}

	if err := writeYAML(filepath.Join(dir, "docker-compose.yml"), "", compose(env), fileMode); err != nil {
		return err
	}

	if p := env.UserInputs.Prometheus; p != nil {
		cfg := prometheus(p.ScrapeInterval, tracker.APIPort)
		promPath := filepath.Join(dir, "storage", "prometheus", "etc", "prometheus.yml")
		if err := writeYAML(promPath, "", cfg, fileMode); err != nil {
			return err
		}
	}

	r.logger.Debug().
		Str("environment", env.Name().String()).
		Str("ip", ip.String()).
		Str("dir", dir).
		Msg("Rendered release templates")
	return nil
}

// envFile returns the compose .env contents, sorted by key.
func (r *Renderer) envFile(env environment.Context) string {
	vars := map[string]string{
		"USER_ID":                          "1000",
		"TORRUST_TRACKER_CONFIG_TOML_PATH": "/etc/torrust/tracker/tracker.toml",
		"TORRUST_TRACKER_CONFIG_OVERRIDE_HTTP_API__ACCESS_TOKENS__ADMIN": r.secrets.Secret(SecretTrackerAPIToken),
	}
	if env.UserInputs.Tracker.Database == "mysql" {
		password := r.secrets.Secret(SecretMySQLPassword)
		vars["MYSQL_ROOT_PASSWORD"] = r.secrets.Secret(SecretMySQLRootPassword)
		vars["MYSQL_PASSWORD"] = password
		vars["TORRUST_TRACKER_CONFIG_OVERRIDE_CORE__DATABASE__PATH"] = "mysql://torrust:" + password + "@mysql:3306/torrust_tracker"
	}
	if g := env.UserInputs.Grafana; g != nil {
		vars["GF_SECURITY_ADMIN_USER"] = g.AdminUser
		vars["GF_SECURITY_ADMIN_PASSWORD"] = g.AdminPassword
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, vars[k])
	}
	return b.String()
}

func compose(env environment.Context) composeFile {
	tracker := env.UserInputs.Tracker

	var ports []string
	for _, p := range tracker.UDPPorts {
		ports = append(ports, fmt.Sprintf("%d:%d/udp", p, p))
	}
	for _, p := range tracker.HTTPPorts {
		ports = append(ports, fmt.Sprintf("%d:%d", p, p))
	}
	ports = append(ports, fmt.Sprintf("%d:%d", tracker.APIPort, tracker.APIPort))

	services := map[string]composeService{
		"tracker": {
			Image:   TrackerImage,
			Restart: "unless-stopped",
			EnvFile: []string{".env"},
			Ports:   ports,
			Volumes: []string{
				"./storage/tracker/lib:/var/lib/torrust/tracker",
				"./storage/tracker/log:/var/log/torrust/tracker",
				"./storage/tracker/etc:/etc/torrust/tracker",
			},
			Healthcheck: &composeHealthcheck{
				Test:     []string{"CMD", "/usr/bin/http_health_check", "http://localhost:" + strconv.Itoa(trackerHealthPort) + "/health_check"},
				Interval: "10s",
				Timeout:  "5s",
				Retries:  5,
			},
		},
	}

	if tracker.Database == "mysql" {
		services["mysql"] = composeService{
			Image:   MySQLImage,
			Restart: "unless-stopped",
			EnvFile: []string{".env"},
			Environment: []string{
				"MYSQL_DATABASE=torrust_tracker",
				"MYSQL_USER=torrust",
			},
			Volumes: []string{"./storage/mysql:/var/lib/mysql"},
			Healthcheck: &composeHealthcheck{
				Test:     []string{"CMD", "mysqladmin", "ping", "-h", "localhost"},
				Interval: "10s",
				Timeout:  "5s",
				Retries:  10,
			},
		}
		t := services["tracker"]
		t.DependsOn = map[string]depends{"mysql": {Condition: "service_healthy"}}
		services["tracker"] = t
	}

	if env.UserInputs.Prometheus != nil {
		services["prometheus"] = composeService{
			Image:   PrometheusImage,
			Restart: "unless-stopped",
			Command: []string{"--config.file=/etc/prometheus/prometheus.yml"},
			Ports:   []string{"127.0.0.1:9090:9090"},
			Volumes: []string{"./storage/prometheus/etc:/etc/prometheus:ro"},
		}
	}

	if env.UserInputs.Grafana != nil {
		g := composeService{
			Image:   GrafanaImage,
			Restart: "unless-stopped",
			EnvFile: []string{".env"},
			Ports:   []string{fmt.Sprintf("%d:3000", grafanaHostPort)},
			Volumes: []string{"./storage/grafana/data:/var/lib/grafana"},
		}
		if env.UserInputs.Prometheus != nil {
			g.DependsOn = map[string]depends{"prometheus": {Condition: "service_started"}}
		}
		services["grafana"] = g
	}

	return composeFile{Name: "torrust", Services: services}
}

func prometheus(interval time.Duration, apiPort int) prometheusConfig {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	target := []staticConfig{{Targets: []string{"tracker:" + strconv.Itoa(apiPort)}}}
	return prometheusConfig{
		Global: prometheusGlobal{ScrapeInterval: strconv.Itoa(int(interval.Seconds())) + "s"},
		ScrapeConfigs: []scrapeConfig{
			{
				JobName:     "tracker_stats",
				MetricsPath: "/api/v1/stats",
				Params:      map[string][]string{"format": {"prometheus"}},
				Static:      target,
			},
			{
				JobName:     "tracker_metrics",
				MetricsPath: "/api/v1/metrics",
				Params:      map[string][]string{"format": {"prometheus"}},
				Static:      target,
			},
		},
	}
}
