// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"fmt"

	"github.com/wneessen/geotrack/internal/capability"
	"github.com/wneessen/geotrack/internal/config"
	"github.com/wneessen/geotrack/internal/provider"
	"github.com/wneessen/geotrack/internal/provider/file"
	"github.com/wneessen/geotrack/internal/provider/gpsd"
	"github.com/wneessen/geotrack/internal/provider/gpsdwatch"
)

// selectSource returns the location source configured in conf.
func selectSource(conf *config.Config) (provider.Source, error) {
	switch conf.Provider.Type {
	case config.ProviderGPSD:
		return gpsd.New(conf.Provider.GPSDHost, conf.Provider.GPSDPort, conf.Provider.PollInterval), nil
	case config.ProviderGPSDWatch:
		return gpsdwatch.New(conf.Provider.GPSDHost, conf.Provider.GPSDPort), nil
	case config.ProviderFile:
		return file.New(conf.Provider.File, conf.Provider.PollInterval), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", conf.Provider.Type)
	}
}

// selectPlatform returns the capability platform configured in conf.
func selectPlatform(conf *config.Config) (capability.Platform, error) {
	switch conf.Capabilities.Platform {
	case config.PlatformStatic:
		state, err := conf.StaticCapabilities()
		if err != nil {
			return nil, err
		}
		return capability.NewStaticPlatform(state), nil
	case config.PlatformDBus:
		return capability.NewDBusPlatform(conf.Capabilities.AppID), nil
	default:
		return nil, fmt.Errorf("unsupported capability platform: %s", conf.Capabilities.Platform)
	}
}
