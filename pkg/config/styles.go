package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/gdamore/tcell/v2"
	"gopkg.in/yaml.v3"
)

// getConfigDirFunc is the function used to resolve the config directory.
// It can be overridden in tests.
var getConfigDirFunc = func() (string, error) {
	return filepath.Join(xdg.ConfigHome, "runguard"), nil
}

// Color represents a color that can be specified as hex string or name
type Color string

// ToTcellColor converts a Color to tcell.Color
func (c Color) ToTcellColor() tcell.Color {
	if c == "" {
		return tcell.ColorDefault
	}
	return tcell.GetColor(string(c))
}

// Tag returns the color as a tview dynamic-color tag body, or the
// fallback when the color is unset.
func (c Color) Tag(fallback string) string {
	if c == "" {
		return fallback
	}
	return string(c)
}

// StyleConfig represents a complete approval-console theme
type StyleConfig struct {
	Runguard RunguardStyles `yaml:"runguard"`
}

// RunguardStyles contains all console-level style definitions
type RunguardStyles struct {
	Header    HeaderStyle    `yaml:"header"`
	Body      BodyStyle      `yaml:"body"`
	Frame     FrameStyle     `yaml:"frame"`
	Risk      RiskStyle      `yaml:"risk"`
	Dialog    DialogStyle    `yaml:"dialog"`
	StatusBar StatusBarStyle `yaml:"statusBar"`
}

// HeaderStyle defines the console banner line
type HeaderStyle struct {
	FgColor Color `yaml:"fgColor"`
	BgColor Color `yaml:"bgColor"`
}

// BodyStyle defines the decision-history pane
type BodyStyle struct {
	FgColor Color `yaml:"fgColor"`
	BgColor Color `yaml:"bgColor"`
}

// FrameStyle defines border and title styles
type FrameStyle struct {
	BorderColor Color `yaml:"borderColor"`
	TitleColor  Color `yaml:"titleColor"`
}

// RiskStyle maps each risk level to the color its label renders in
type RiskStyle struct {
	Safe     Color `yaml:"safe"`
	Low      Color `yaml:"low"`
	Medium   Color `yaml:"medium"`
	High     Color `yaml:"high"`
	Critical Color `yaml:"critical"`
}

// ForLevel returns the color for a risk level name. Unknown names get
// the critical color so an odd label is never understated.
func (r RiskStyle) ForLevel(level string) Color {
	switch strings.ToLower(level) {
	case "safe":
		return r.Safe
	case "low":
		return r.Low
	case "medium":
		return r.Medium
	case "high":
		return r.High
	case "critical":
		return r.Critical
	default:
		return r.Critical
	}
}

// DialogStyle defines the approval modal colors
type DialogStyle struct {
	FgColor       Color `yaml:"fgColor"`
	BgColor       Color `yaml:"bgColor"`
	ButtonFgColor Color `yaml:"buttonFgColor"`
	ButtonBgColor Color `yaml:"buttonBgColor"`
}

// StatusBarStyle defines status bar colors
type StatusBarStyle struct {
	FgColor  Color `yaml:"fgColor"`
	BgColor  Color `yaml:"bgColor"`
	KeyColor Color `yaml:"keyColor"`
}

// DefaultStyles returns the stock console theme
func DefaultStyles() *StyleConfig {
	return &StyleConfig{
		Runguard: RunguardStyles{
			Header: HeaderStyle{
				FgColor: "white",
				BgColor: "darkblue",
			},
			Body: BodyStyle{
				FgColor: "white",
			},
			Frame: FrameStyle{
				BorderColor: "darkcyan",
				TitleColor:  "white",
			},
			Risk: RiskStyle{
				Safe:     "#50fa7b",
				Low:      "#8be9fd",
				Medium:   "#f1fa8c",
				High:     "#ffb86c",
				Critical: "#ff5555",
			},
			Dialog: DialogStyle{
				FgColor:       "white",
				BgColor:       "darkred",
				ButtonFgColor: "white",
				ButtonBgColor: "#6272a4",
			},
			StatusBar: StatusBarStyle{
				FgColor:  "white",
				BgColor:  "darkgreen",
				KeyColor: "yellow",
			},
		},
	}
}

// LoadStyles loads style configuration from a skin file
func LoadStyles(skinName string) (*StyleConfig, error) {
	if skinName == "" {
		skinName = "default"
	}

	configDir, err := getConfigDirFunc()
	if err != nil {
		return DefaultStyles(), nil
	}

	skinPath := filepath.Join(configDir, "skins", skinName+".yaml")
	data, err := os.ReadFile(skinPath)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultStyles(), nil
		}
		return nil, err
	}

	var styles StyleConfig
	if err := yaml.Unmarshal(data, &styles); err != nil {
		return DefaultStyles(), nil
	}

	return &styles, nil
}

// SaveStyles saves style configuration to a skin file
func SaveStyles(skinName string, styles *StyleConfig) error {
	if skinName == "" {
		skinName = "default"
	}

	configDir, err := getConfigDirFunc()
	if err != nil {
		return err
	}

	skinDir := filepath.Join(configDir, "skins")
	if err := os.MkdirAll(skinDir, 0755); err != nil {
		return err
	}

	skinPath := filepath.Join(skinDir, skinName+".yaml")
	data, err := yaml.Marshal(styles)
	if err != nil {
		return err
	}

	return os.WriteFile(skinPath, data, 0644)
}

// ProfileSkinConfig maps gate profile names to skin names, so a console
// running under a stricter profile is visibly different from a normal one.
type ProfileSkinConfig struct {
	Mappings map[string]string `yaml:"mappings"` // profile name or glob -> skin name
}

// LoadProfileSkins loads the profile-skin mappings from config.
// Returns an empty config (not an error) when the file is missing or malformed.
func LoadProfileSkins() (*ProfileSkinConfig, error) {
	configDir, err := getConfigDirFunc()
	if err != nil {
		return &ProfileSkinConfig{Mappings: make(map[string]string)}, nil
	}

	path := filepath.Join(configDir, "profile-skins.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ProfileSkinConfig{Mappings: make(map[string]string)}, nil
		}
		return nil, err
	}

	var cfg ProfileSkinConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &ProfileSkinConfig{Mappings: make(map[string]string)}, nil
	}
	if cfg.Mappings == nil {
		cfg.Mappings = make(map[string]string)
	}
	return &cfg, nil
}

// SkinForProfile returns the skin name mapped to a gate profile.
// It first checks for an exact match, then tries glob patterns.
// Returns the empty string when no mapping exists.
func (c *ProfileSkinConfig) SkinForProfile(profile string) string {
	if c == nil || c.Mappings == nil {
		return ""
	}
	if skin, ok := c.Mappings[profile]; ok {
		return skin
	}
	// Check for glob patterns (e.g., "paranoid-*" matches "paranoid-prod")
	for pattern, skin := range c.Mappings {
		if strings.Contains(pattern, "*") && matchGlob(pattern, profile) {
			return skin
		}
	}
	return ""
}

// matchGlob performs simple glob matching supporting only the * wildcard.
// Each * matches zero or more characters.
func matchGlob(pattern, name string) bool {
	if pattern == "*" {
		return true
	}
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == name
	}

	// The name must start with the first part and end with the last part.
	// Intermediate parts must appear in order in between.
	rest := name

	for i, part := range parts {
		if part == "" {
			continue
		}
		idx := strings.Index(rest, part)
		if idx < 0 {
			return false
		}
		// First segment must be a prefix
		if i == 0 && idx != 0 {
			return false
		}
		// Last segment must be a suffix
		if i == len(parts)-1 && idx+len(part) != len(rest) {
			return false
		}
		rest = rest[idx+len(part):]
	}
	return true
}

// BuiltInProfileSkins returns pre-defined skins keyed by the profile (or
// mapped skin) names that select them.
func BuiltInProfileSkins() map[string]*StyleConfig {
	return map[string]*StyleConfig{
		"paranoid": paranoidSkin(),
	}
}

// paranoidSkin is the default theme with red accents, so an operator can
// tell at a glance that medium-risk commands are being gated too.
func paranoidSkin() *StyleConfig {
	s := DefaultStyles()
	s.Runguard.Frame.BorderColor = "#ff5555"
	s.Runguard.Frame.TitleColor = "#ff5555"
	s.Runguard.StatusBar.BgColor = "#ff5555"
	return s
}

// LoadStylesForProfile loads the appropriate skin for a gate profile.
// It first checks profile-skins.yaml for a mapping, then tries built-in
// skins, and finally falls back to a user skin file or default styles.
func LoadStylesForProfile(profile string) (*StyleConfig, error) {
	profileSkins, err := LoadProfileSkins()
	if err != nil {
		return DefaultStyles(), nil
	}

	skinName := profileSkins.SkinForProfile(profile)
	if skinName == "" {
		// No mapping: profiles with a built-in look use it.
		if builtIn, ok := BuiltInProfileSkins()[profile]; ok {
			return builtIn, nil
		}
		return DefaultStyles(), nil
	}
	if skinName == "default" {
		return DefaultStyles(), nil
	}

	// Check built-in skins first
	if builtIn, ok := BuiltInProfileSkins()[skinName]; ok {
		return builtIn, nil
	}

	// Fall back to user-defined skin file
	return LoadStyles(skinName)
}
