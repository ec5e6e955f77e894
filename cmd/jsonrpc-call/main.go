// Command jsonrpc-call performs one JSON-RPC call and prints the result as JSON.
//
//	jsonrpc-call -addr 127.0.0.1:4000 add 2 3
//	jsonrpc-call -named greet '{"name": "bob"}'
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"mini-jsonrpc/client"
	"mini-jsonrpc/config"
	"mini-jsonrpc/loadbalance"
	"mini-jsonrpc/registry"
	"mini-jsonrpc/transport"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	addr := flag.String("addr", "", "server address, overrides the config; unused when a registry is configured")
	named := flag.Bool("named", false, "send the single argument, a JSON object, as named parameters")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] method [json-args...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(*configPath, *addr, *named, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, addr string, named bool, method string, rawArgs []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.Server.Addr
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var reg registry.Registry
	if len(cfg.Registry.Endpoints) > 0 {
		etcdReg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.DialTimeout, logger)
		if err != nil {
			return err
		}
		defer etcdReg.Close()
		reg = etcdReg
	}
	opts, err := clientOptions(cfg, reg, logger)
	if err != nil {
		return err
	}
	c := client.New(addr, opts...)
	defer c.Close()

	ctx := context.Background()
	if cfg.Client.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Client.CallTimeout)
		defer cancel()
	}

	var result any
	if named {
		if len(rawArgs) != 1 {
			return fmt.Errorf("-named takes exactly one JSON object argument, got %d", len(rawArgs))
		}
		var params map[string]any
		if err := json.Unmarshal([]byte(rawArgs[0]), &params); err != nil {
			return fmt.Errorf("parse named arguments: %w", err)
		}
		result, err = c.CallNamed(ctx, method, params)
	} else {
		args := make([]any, len(rawArgs))
		for i, raw := range rawArgs {
			if err := json.Unmarshal([]byte(raw), &args[i]); err != nil {
				return fmt.Errorf("parse argument %d %q: %w", i+1, raw, err)
			}
		}
		result, err = c.Call(ctx, method, args...)
	}
	if err != nil {
		return err
	}

	out, err := json.Marshal(result)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// clientOptions builds the client settings from cfg. With a registry, calls go to
// an instance of cfg.Server.ServiceName chosen by the configured balancer.
func clientOptions(cfg *config.Config, reg registry.Registry, logger *zap.Logger) ([]client.Option, error) {
	opts := []client.Option{
		client.WithTransport(transport.NewTCPTransport(transport.WithDialTimeout(cfg.Client.DialTimeout), transport.WithLogger(logger))),
		client.WithRetry(cfg.Client.Retries, cfg.Client.RetryDelay),
		client.WithLogger(logger),
	}
	if reg == nil {
		return opts, nil
	}
	b, err := loadbalance.New(cfg.Client.Balancer)
	if err != nil {
		return nil, err
	}
	return append(opts, client.WithDiscovery(reg, cfg.Server.ServiceName, b)), nil
}
