package main

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Default values for keys a <botName>.xml file may omit, per §6.
const (
	defaultSteamLogin       = "null"
	defaultSteamPassword    = "null"
	defaultSteamNickname    = "null"
	defaultSteamAPIKey      = "null"
	defaultSteamParentalPIN = "0"
	defaultProxyURL         = "null"
	defaultHoursToBump      = 2.0
	defaultMaxConcurrent    = 32
	defaultFarmingDelay     = 10 * time.Minute
	defaultMaxFarmingTime   = 180 * time.Minute
)

var defaultBlacklist = []uint32{303700, 335590, 368020}

// ConfigDirEnvVar names the directory <botName>.xml files live under.
const ConfigDirEnvVar = "CONFIG_DIR"

// DefaultConfigDir is used when ConfigDirEnvVar is unset.
const DefaultConfigDir = "configs"

// xmlConfigDocument is the on-disk element-per-key shape: a flat list of
// elements, each named after a config key, carrying its value in a "value"
// attribute. Unknown elements are logged and ignored rather than rejected,
// so older or newer config files stay forward/backward compatible.
type xmlConfigDocument struct {
	XMLName xml.Name    `xml:"BotConfig"`
	Entries []xmlEntry  `xml:",any"`
}

type xmlEntry struct {
	XMLName xml.Name
	Value   string `xml:"value,attr"`
}

// configDir returns the directory holding per-bot config files.
func configDir() string {
	if dir := os.Getenv(ConfigDirEnvVar); dir != "" {
		return dir
	}
	return DefaultConfigDir
}

// ListBotConfigs loads every <botName>.xml file under configDir() whose
// Enabled key is true. A per-file parse failure is logged (Configuration
// error kind, per §7) and the file is skipped, not fatal to the others.
func ListBotConfigs() ([]BotConfig, error) {
	dir := configDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading config dir %q: %w", dir, err)
	}

	var configs []BotConfig
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".xml") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".xml")
		cfg, err := LoadBotConfig(name)
		if err != nil {
			LogError("Skipping bot config %s: %v", name, err)
			continue
		}
		if !cfg.Enabled {
			LogInfo("Bot %s is disabled in config, not registering", name)
			continue
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// LoadBotConfig parses <configDir()>/<name>.xml into a defaulted BotConfig.
func LoadBotConfig(name string) (BotConfig, error) {
	path := filepath.Join(configDir(), name+".xml")
	data, err := os.ReadFile(path)
	if err != nil {
		return BotConfig{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc xmlConfigDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return BotConfig{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg := BotConfig{
		Name:                       name,
		SteamLogin:                 defaultSteamLogin,
		SteamPassword:              defaultSteamPassword,
		SteamNickname:              defaultSteamNickname,
		SteamAPIKey:                defaultSteamAPIKey,
		SteamParentalPIN:           defaultSteamParentalPIN,
		Blacklist:                  append([]uint32(nil), defaultBlacklist...),
		Statistics:                 true,
		ProxyURL:                   defaultProxyURL,
		FarmingOrder:               FarmingOrderUnordered,
		HoursToBump:                defaultHoursToBump,
		MaxGamesPlayedConcurrently: defaultMaxConcurrent,
		FarmingDelay:               defaultFarmingDelay,
		MaxFarmingTime:             defaultMaxFarmingTime,
	}

	for _, e := range doc.Entries {
		key := e.XMLName.Local
		value := e.Value
		var err error
		switch key {
		case "Enabled":
			cfg.Enabled, err = strconv.ParseBool(value)
		case "SteamLogin":
			cfg.SteamLogin = value
		case "SteamPassword":
			cfg.SteamPassword = value
		case "SteamNickname":
			cfg.SteamNickname = value
		case "SteamApiKey":
			cfg.SteamAPIKey = value
		case "SteamParentalPIN":
			cfg.SteamParentalPIN = value
		case "SteamMasterID":
			cfg.SteamMasterID, err = strconv.ParseUint(value, 10, 64)
		case "SteamMasterClanID":
			cfg.SteamMasterClanID, err = strconv.ParseUint(value, 10, 64)
		case "CardDropsRestricted":
			cfg.CardDropsRestricted, err = strconv.ParseBool(value)
		case "ShutdownOnFarmingFinished":
			cfg.ShutdownOnFarmingFinished, err = strconv.ParseBool(value)
		case "Blacklist":
			cfg.Blacklist, err = parseCSVUint32(value)
		case "Statistics":
			cfg.Statistics, err = strconv.ParseBool(value)
		case "ProxyURL":
			cfg.ProxyURL = value
		case "FarmingOrder":
			cfg.FarmingOrder, err = parseFarmingOrder(value)
		case "HoursToBump":
			var f float64
			f, err = strconv.ParseFloat(value, 32)
			cfg.HoursToBump = float32(f)
		case "MaxGamesPlayedConcurrently":
			var n int
			n, err = strconv.Atoi(value)
			cfg.MaxGamesPlayedConcurrently = n
		case "FarmingDelay":
			var mins int
			mins, err = strconv.Atoi(value)
			cfg.FarmingDelay = time.Duration(mins) * time.Minute
		case "MaxFarmingTime":
			var mins int
			mins, err = strconv.Atoi(value)
			cfg.MaxFarmingTime = time.Duration(mins) * time.Minute
		default:
			LogWarning("Bot %s: ignoring unknown config key %q", name, key)
			continue
		}
		if err != nil {
			return BotConfig{}, fmt.Errorf("bot %s: key %s=%q: %w", name, key, value, err)
		}
	}

	return cfg, nil
}

func parseCSVUint32(value string) ([]uint32, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	ids := make([]uint32, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, err
		}
		ids = append(ids, uint32(n))
	}
	return ids, nil
}

func parseFarmingOrder(value string) (FarmingOrder, error) {
	switch value {
	case "Unordered", "":
		return FarmingOrderUnordered, nil
	case "CardsAscending":
		return FarmingOrderCardsAscending, nil
	case "CardsDescending":
		return FarmingOrderCardsDescending, nil
	case "HoursAscending":
		return FarmingOrderHoursAscending, nil
	case "HoursDescending":
		return FarmingOrderHoursDescending, nil
	default:
		return FarmingOrderUnordered, fmt.Errorf("unknown FarmingOrder %q", value)
	}
}

// SentryPath returns the path to this bot's sentry blob, per §6.
func SentryPath(botName string) string {
	dir := os.Getenv("SENTRY_DIR")
	if dir == "" {
		dir = "sentries"
	}
	return filepath.Join(dir, botName+".bin")
}
