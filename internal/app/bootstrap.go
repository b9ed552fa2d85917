package app

import (
	"strings"
	"time"

	"retrotrack/internal/config"
	"retrotrack/internal/diff"
	"retrotrack/internal/dispatch"
	"retrotrack/internal/poll"
	"retrotrack/internal/raapi"
	"retrotrack/internal/storage"
)

// Mapping helpers: raw config (duration strings, omitted fields) -> typed
// component configs. Component defaults fill anything left zero.

func mapBudgetConfig(cfg *config.Config) (raapi.BudgetConfig, error) {
	interval, err := config.ParseDurationField("api.interval", cfg.API.Interval)
	if err != nil {
		return raapi.BudgetConfig{}, err
	}
	retryDelay, err := config.ParseDurationField("api.retry_delay", cfg.API.RetryDelay)
	if err != nil {
		return raapi.BudgetConfig{}, err
	}
	return raapi.BudgetConfig{
		RequestsPerInterval: cfg.API.RequestsPerInterval,
		Interval:            interval,
		MaxRetries:          cfg.API.MaxRetries,
		RetryDelay:          retryDelay,
		QueueSize:           cfg.API.QueueSize,
	}, nil
}

func mapClientConfig(cfg *config.Config) (raapi.ClientConfig, error) {
	timeout, err := config.ParseDurationField("api.timeout", cfg.API.Timeout)
	if err != nil {
		return raapi.ClientConfig{}, err
	}
	cacheTTL, err := config.ParseDurationField("api.cache_ttl", cfg.API.CacheTTL)
	if err != nil {
		return raapi.ClientConfig{}, err
	}
	volatileTTL, err := config.ParseDurationField("api.volatile_cache_ttl", cfg.API.VolatileCacheTTL)
	if err != nil {
		return raapi.ClientConfig{}, err
	}
	return raapi.ClientConfig{
		BaseURL:          strings.TrimRight(cfg.API.BaseURL, "/"),
		Key:              cfg.API.Key,
		Timeout:          timeout,
		CacheTTL:         cacheTTL,
		VolatileCacheTTL: volatileTTL,
	}, nil
}

func mapDiffConfig(cfg *config.Config) (diff.Config, error) {
	reconfirmDelay, err := config.ParseDurationField("diff.reconfirm_delay", cfg.Diff.ReconfirmDelay)
	if err != nil {
		return diff.Config{}, err
	}
	entityDelay, err := config.ParseDurationOrDefault("poll.entity_delay", cfg.Poll.EntityDelay, time.Second)
	if err != nil {
		return diff.Config{}, err
	}
	return diff.Config{
		TopK:                 cfg.Diff.TopK,
		ConsistencyTolerance: cfg.Diff.ConsistencyTolerance,
		AbsoluteTolerance:    cfg.Diff.AbsoluteTolerance,
		ReconfirmDelay:       reconfirmDelay,
		ReconfirmOverlap:     cfg.Diff.ReconfirmOverlap,
		EntityDelay:          entityDelay,
	}, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	minInterval, err := config.ParseDurationField("dispatch.min_alert_interval", cfg.Dispatch.MinAlertInterval)
	if err != nil {
		return dispatch.Config{}, err
	}
	routes := make(map[string][]string, len(cfg.Dispatch.Routes))
	for kind, dests := range cfg.Dispatch.Routes {
		routes[kind] = append([]string(nil), dests...)
	}
	return dispatch.Config{
		MinAlertInterval: minInterval,
		AnnouncedLogCap:  cfg.Dispatch.AnnouncedLogCap,
		Routes:           routes,
	}, nil
}

func mapPollConfig(cfg *config.Config) (poll.Config, error) {
	rankInterval, err := config.ParseDurationField("poll.rank_interval", cfg.Poll.RankInterval)
	if err != nil {
		return poll.Config{}, err
	}
	awardInterval, err := config.ParseDurationField("poll.award_interval", cfg.Poll.AwardInterval)
	if err != nil {
		return poll.Config{}, err
	}
	return poll.Config{
		Enabled:       cfg.Poll.Enabled,
		RankInterval:  rankInterval,
		AwardInterval: awardInterval,
		Timezone:      cfg.Poll.Timezone,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, nil
}
