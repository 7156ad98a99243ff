package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"

	"nexrt/internal/config"
	"nexrt/internal/core"
	"nexrt/internal/httpapi"
	"nexrt/internal/logging"
	"nexrt/internal/platform"
)

// loadConfig reads the config file (or defaults), then the environment, then
// the log flags.
func loadConfig(o *Options) (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Log.Format = o.LogFormat
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config, o *Options) (zerolog.Logger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Format, o.Err)
}

func serve(ctx context.Context, o *Options) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, o)
	if err != nil {
		return err
	}
	rt, err := core.New(cfg, core.Options{Logger: log})
	if err != nil {
		return err
	}
	// In-flight admin calls are cancelled when serve is interrupted.
	httpapi.SetBaseContext(ctx)
	if err := rt.Initialize(ctx); err != nil {
		return err
	}
	if addr := rt.AdminAddr(); addr != "" {
		log.Info().Str("addr", addr).Msg("admin API listening")
	}
	<-ctx.Done()
	log.Info().Msg("shutting down")
	timeout := cfg.ShutdownTimeout.Std()
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return rt.Shutdown(sctx)
}

// localRuntime brings up a runtime with auto-load and the admin API off, for
// one-shot plugin commands.
func localRuntime(ctx context.Context, o *Options) (*core.Runtime, error) {
	cfg, err := loadConfig(o)
	if err != nil {
		return nil, err
	}
	cfg.Plugins.AutoLoad = false
	cfg.Admin.Enabled = false
	log, err := newLogger(cfg, o)
	if err != nil {
		return nil, err
	}
	rt, err := core.New(cfg, core.Options{Logger: log})
	if err != nil {
		return nil, err
	}
	if err := rt.Initialize(ctx); err != nil {
		return nil, err
	}
	return rt, nil
}

func showPlatform(ctx context.Context, o *Options) error {
	f := platform.NewFactory(platform.FactoryOptions{})
	info, err := f.Info(ctx)
	if err != nil && !errors.Is(err, platform.ErrUnsupportedPlatform) {
		return err
	}
	compat := f.CheckCompatibility(ctx)
	rec := f.RecommendedConfig()
	if o.JSON {
		return printJSON(o, map[string]any{
			"info":          info,
			"compatibility": compat,
			"recommended":   rec,
		})
	}
	tw := tabwriter.NewWriter(o.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Platform:\t%s %s (%s)\n", info.Name, info.Version, info.Architecture)
	if info.KernelVersion != "" {
		fmt.Fprintf(tw, "Kernel:\t%s\n", info.KernelVersion)
	}
	fmt.Fprintf(tw, "CPU:\t%s (%d cores, %d threads)\n", info.CPUModel, info.CPUCores, info.CPUThreads)
	fmt.Fprintf(tw, "Memory:\t%.1f GB\n", info.MemoryGB)
	fmt.Fprintf(tw, "Features:\t%s\n", strings.Join(info.Features.Names(), ", "))
	fmt.Fprintf(tw, "Container:\t%v %s\n", info.IsContainerized, info.ContainerType)
	fmt.Fprintf(tw, "Virtualized:\t%v %s\n", info.IsVirtualized, info.Hypervisor)
	fmt.Fprintf(tw, "GPU:\t%v\n", info.HasGPU)
	fmt.Fprintf(tw, "Compatible:\t%v (minimum %s)\n", compat.Supported, compat.MinimumVersion)
	for _, w := range compat.Warnings {
		fmt.Fprintf(tw, "Warning:\t%s\n", w)
	}
	fmt.Fprintf(tw, "Recommended:\tthreads=%d allocator=%dMiB io=%s\n", rec.SchedulerThreads, rec.AllocatorCapacity>>20, rec.IOModel)
	return tw.Flush()
}

func scanPlugins(ctx context.Context, o *Options, dir string) error {
	rt, err := localRuntime(ctx, o)
	if err != nil {
		return err
	}
	defer rt.Shutdown(context.Background())
	descs, err := rt.Plugins().ScanPlugins(dir)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(o.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tLOADER\tSIZE")
	for _, d := range descs {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", d.Path, d.Type, d.Size)
	}
	return tw.Flush()
}

func loadPlugins(ctx context.Context, o *Options, dir string) error {
	rt, err := localRuntime(ctx, o)
	if err != nil {
		return err
	}
	defer rt.Shutdown(context.Background())
	results, err := rt.Plugins().LoadAll(ctx, dir)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(o.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tNAME\tVERSION\tSTATUS")
	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(tw, "%s\t-\t-\tfailed: %v\n", r.Descriptor.Path, r.Err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Descriptor.Path, r.Info.Name, r.Info.Version, r.Info.Status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d plugins failed to load", failed, len(results))
	}
	return nil
}

func dial(o *Options) (*httpapi.Client, error) {
	c, err := httpapi.NewClient(o.Addr, nil)
	if err != nil {
		return nil, err
	}
	if _, err := c.Connect(nil).Get(); err != nil {
		return nil, err
	}
	return c, nil
}

func remoteStats(ctx context.Context, o *Options) error {
	c, err := dial(o)
	if err != nil {
		return err
	}
	defer c.Disconnect(nil)
	st, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	return printJSON(o, st)
}

func remoteCall(ctx context.Context, o *Options, name, method string, args map[string]any) error {
	c, err := dial(o)
	if err != nil {
		return err
	}
	defer c.Disconnect(nil)
	out, err := c.Call(ctx, name, method, args)
	if err != nil {
		return err
	}
	return printJSON(o, out)
}

func watchEvents(ctx context.Context, o *Options) error {
	c, err := dial(o)
	if err != nil {
		return err
	}
	defer c.Disconnect(nil)
	events, err := c.Subscribe(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(o.Out)
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
	}
}

func printJSON(o *Options, v any) error {
	enc := json.NewEncoder(o.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
