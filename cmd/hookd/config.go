// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"

	"github.com/kadirpekel/hookd/pkg/config"
	"github.com/kadirpekel/hookd/pkg/config/provider"
)

func (cli *CLI) providerConfig() (provider.ProviderConfig, error) {
	t, err := provider.ParseType(cli.ConfigProvider)
	if err != nil {
		return provider.ProviderConfig{}, err
	}
	return provider.ProviderConfig{
		Type:      t,
		Path:      cli.Config,
		Endpoints: cli.ConfigEndpoints,
	}, nil
}

// newLoader builds a loader for the configured source.
func (cli *CLI) newLoader(opts ...config.LoaderOption) (*config.Loader, error) {
	pc, err := cli.providerConfig()
	if err != nil {
		return nil, err
	}
	p, err := provider.New(pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create config provider: %w", err)
	}
	return config.NewLoader(p, opts...), nil
}

// loadConfig loads the config once and applies its logger section.
func (cli *CLI) loadConfig(ctx context.Context, opts ...config.LoaderOption) (*config.Config, *config.Loader, error) {
	loader, err := cli.newLoader(opts...)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := loader.Load(ctx)
	if err != nil {
		_ = loader.Close()
		return nil, nil, err
	}
	if err := cli.initLogger(&cfg.Logger); err != nil {
		_ = loader.Close()
		return nil, nil, err
	}
	return cfg, loader, nil
}
