package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/workly/workly-gate/internal/adapter/inbound/http"
	"github.com/workly/workly-gate/internal/adapter/outbound/cel"
	"github.com/workly/workly-gate/internal/config"
	"github.com/workly/workly-gate/internal/domain/access"
	"github.com/workly/workly-gate/internal/domain/route"
)

var (
	routesPaths  []string
	routesFormat string
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Show how a path is classified and decided",
	Long: `Show the effective route table, or how given paths are treated.

Without --path, prints the prefix lists the gate classifies with. With one
or more --path flags, prints the category of each path and the decision an
anonymous visitor, a signed-in member and an admin would get.

Examples:
  workly-gate routes
  workly-gate routes --path /admin/users --path /dashboard
  workly-gate routes --path /profile --format text`,
	RunE: runRoutes,
}

func init() {
	routesCmd.Flags().StringArrayVar(&routesPaths, "path", nil, "path to preview (repeatable)")
	routesCmd.Flags().StringVar(&routesFormat, "format", "yaml", "output format: yaml or text")
	rootCmd.AddCommand(routesCmd)
}

// RouteTable is the effective classification configuration.
type RouteTable struct {
	Protected []string `yaml:"protected"`
	Admin     []string `yaml:"admin"`
	Bypass    []string `yaml:"bypass"`
	LoginPath string   `yaml:"login_path"`
	HomePath  string   `yaml:"home_path"`
	Policy    string   `yaml:"admin_policy"`
}

func runRoutes(cmd *cobra.Command, args []string) error {
	if routesFormat != "yaml" && routesFormat != "text" {
		return fmt.Errorf("invalid --format %q: must be yaml or text", routesFormat)
	}

	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(routesPaths) == 0 {
		return writeRouteTable(out, routeTable(cfg), routesFormat)
	}

	for _, p := range routesPaths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("path %q must start with '/'", p)
		}
	}

	engineCfg := access.Config{LoginPath: cfg.Routes.LoginPath, HomePath: cfg.Routes.HomePath}
	if cfg.AdminPolicy.Expression != "" {
		policy, err := cel.NewAdminPolicy(cfg.AdminPolicy.Expression, slog.New(slog.DiscardHandler))
		if err != nil {
			return fmt.Errorf("invalid admin policy: %w", err)
		}
		engineCfg.AdminPolicy = policy
	}
	engine := access.NewEngine(engineCfg)
	classifier := route.NewClassifier(cfg.Routes.ProtectedPrefixes, cfg.Routes.AdminPrefixes)
	filter := route.NewPathFilter(cfg.Routes.BypassPrefixes)

	previews := make([]http.RouteResponse, 0, len(routesPaths))
	for _, p := range routesPaths {
		previews = append(previews, http.PreviewRoute(classifier, filter, engine, p))
	}
	return writePreviews(out, previews, routesFormat)
}

// routeTable resolves the prefix lists the gate would use for cfg.
func routeTable(cfg *config.GateConfig) RouteTable {
	t := RouteTable{
		Protected: cfg.Routes.ProtectedPrefixes,
		Admin:     cfg.Routes.AdminPrefixes,
		Bypass:    cfg.Routes.BypassPrefixes,
		LoginPath: cfg.Routes.LoginPath,
		HomePath:  cfg.Routes.HomePath,
		Policy:    cfg.AdminPolicy.Expression,
	}
	if len(t.Protected) == 0 {
		t.Protected = route.DefaultProtectedPrefixes
	}
	if len(t.Admin) == 0 {
		t.Admin = route.DefaultAdminPrefixes
	}
	if t.Bypass == nil {
		t.Bypass = route.DefaultBypassPrefixes
	}
	if t.Policy == "" {
		t.Policy = "built-in (role, metadata role or app role is admin)"
	}
	return t
}

func writeRouteTable(w io.Writer, t RouteTable, format string) error {
	if format == "yaml" {
		return encodeYAML(w, t)
	}
	fmt.Fprintf(w, "protected:   %s\n", strings.Join(t.Protected, " "))
	fmt.Fprintf(w, "admin:       %s\n", strings.Join(t.Admin, " "))
	fmt.Fprintf(w, "bypass:      %s\n", strings.Join(t.Bypass, " "))
	fmt.Fprintf(w, "login path:  %s\n", t.LoginPath)
	fmt.Fprintf(w, "home path:   %s\n", t.HomePath)
	fmt.Fprintf(w, "admin check: %s\n", t.Policy)
	return nil
}

func writePreviews(w io.Writer, previews []http.RouteResponse, format string) error {
	if format == "yaml" {
		return encodeYAML(w, previews)
	}
	for _, p := range previews {
		if p.Bypass {
			fmt.Fprintf(w, "%s  %s  bypass\n", p.Path, p.Category)
			continue
		}
		fmt.Fprintf(w, "%s  %s\n", p.Path, p.Category)
		visitors := make([]string, 0, len(p.Preview))
		for name := range p.Preview {
			visitors = append(visitors, name)
		}
		slices.Sort(visitors)
		for _, name := range visitors {
			pv := p.Preview[name]
			if pv.Location != "" {
				fmt.Fprintf(w, "  %-10s %s -> %s\n", name, pv.Decision, pv.Location)
			} else {
				fmt.Fprintf(w, "  %-10s %s\n", name, pv.Decision)
			}
		}
	}
	return nil
}

func encodeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}
