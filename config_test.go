package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name+".xml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing test config %s: %v", path, err)
	}
}

func TestLoadBotConfigAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(ConfigDirEnvVar, dir)

	writeTestConfig(t, dir, "minimal", `<BotConfig><Enabled value="true"/></BotConfig>`)

	cfg, err := LoadBotConfig("minimal")
	if err != nil {
		t.Fatalf("LoadBotConfig returned error: %v", err)
	}
	if !cfg.Enabled {
		t.Fatalf("expected Enabled=true")
	}
	if cfg.SteamLogin != defaultSteamLogin {
		t.Fatalf("expected default SteamLogin, got %q", cfg.SteamLogin)
	}
	if cfg.HoursToBump != defaultHoursToBump {
		t.Fatalf("expected default HoursToBump %v, got %v", defaultHoursToBump, cfg.HoursToBump)
	}
	if len(cfg.Blacklist) != len(defaultBlacklist) {
		t.Fatalf("expected default blacklist of length %d, got %d", len(defaultBlacklist), len(cfg.Blacklist))
	}
}

func TestLoadBotConfigParsesAllKnownKeys(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(ConfigDirEnvVar, dir)

	writeTestConfig(t, dir, "full", `<BotConfig>
		<Enabled value="true"/>
		<SteamLogin value="myaccount"/>
		<SteamPassword value="hunter2"/>
		<SteamNickname value="Farmer"/>
		<SteamApiKey value="ABCDEF"/>
		<SteamMasterID value="76561198000000001"/>
		<SteamMasterClanID value="103582791000000001"/>
		<CardDropsRestricted value="true"/>
		<ShutdownOnFarmingFinished value="true"/>
		<Blacklist value="1,2,3"/>
		<ProxyURL value="socks5://example.com:1080"/>
		<FarmingOrder value="CardsDescending"/>
		<HoursToBump value="3.5"/>
		<MaxGamesPlayedConcurrently value="5"/>
		<FarmingDelay value="15"/>
		<MaxFarmingTime value="120"/>
	</BotConfig>`)

	cfg, err := LoadBotConfig("full")
	if err != nil {
		t.Fatalf("LoadBotConfig returned error: %v", err)
	}
	if cfg.SteamLogin != "myaccount" || cfg.SteamPassword != "hunter2" {
		t.Fatalf("expected credentials parsed, got %+v", cfg)
	}
	if !cfg.CardDropsRestricted || !cfg.ShutdownOnFarmingFinished {
		t.Fatalf("expected restricted+shutdown flags true, got %+v", cfg)
	}
	if len(cfg.Blacklist) != 3 || cfg.Blacklist[2] != 3 {
		t.Fatalf("expected blacklist [1 2 3], got %v", cfg.Blacklist)
	}
	if cfg.FarmingOrder != FarmingOrderCardsDescending {
		t.Fatalf("expected CardsDescending order, got %v", cfg.FarmingOrder)
	}
	if cfg.HoursToBump != 3.5 {
		t.Fatalf("expected HoursToBump 3.5, got %v", cfg.HoursToBump)
	}
	if cfg.MaxGamesPlayedConcurrently != 5 {
		t.Fatalf("expected MaxGamesPlayedConcurrently 5, got %d", cfg.MaxGamesPlayedConcurrently)
	}
}

func TestLoadBotConfigRejectsMalformedValue(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(ConfigDirEnvVar, dir)

	writeTestConfig(t, dir, "bad", `<BotConfig><HoursToBump value="not-a-number"/></BotConfig>`)

	if _, err := LoadBotConfig("bad"); err == nil {
		t.Fatalf("expected error for malformed HoursToBump value")
	}
}

func TestListBotConfigsSkipsDisabledAndMalformed(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(ConfigDirEnvVar, dir)

	writeTestConfig(t, dir, "enabled", `<BotConfig><Enabled value="true"/></BotConfig>`)
	writeTestConfig(t, dir, "disabled", `<BotConfig><Enabled value="false"/></BotConfig>`)
	writeTestConfig(t, dir, "malformed", `<BotConfig><HoursToBump value="nope"/></BotConfig>`)

	configs, err := ListBotConfigs()
	if err != nil {
		t.Fatalf("ListBotConfigs returned error: %v", err)
	}
	if len(configs) != 1 || configs[0].Name != "enabled" {
		t.Fatalf("expected only the enabled config, got %+v", configs)
	}
}

func TestParseFarmingOrderRejectsUnknown(t *testing.T) {
	if _, err := parseFarmingOrder("SidewaysAscending"); err == nil {
		t.Fatalf("expected error for unknown FarmingOrder value")
	}
}
