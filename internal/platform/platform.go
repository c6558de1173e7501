// Package platform holds the fixed tables that map ROM file extensions,
// DAT names and thumbnail repositories to each supported system.
package platform

import (
	"path/filepath"
	"sort"
	"strings"
)

// Platform describes one supported system.
type Platform struct {
	Key           string
	Extensions    []string
	DatName       string   // libretro-database display name
	ThumbnailRepo string   // libretro-thumbnails repository
	MirrorKeys    []string // sibling platforms whose repos are tried after ThumbnailRepo
}

var platforms = map[string]Platform{
	"nds": {
		Key:           "nds",
		Extensions:    []string{".nds"},
		DatName:       "Nintendo - Nintendo DS",
		ThumbnailRepo: "Nintendo_-_Nintendo_DS",
	},
	"snes": {
		Key:           "snes",
		Extensions:    []string{".smc", ".sfc"},
		DatName:       "Nintendo - Super Nintendo Entertainment System",
		ThumbnailRepo: "Nintendo_-_Super_Nintendo_Entertainment_System",
	},
	"nes": {
		Key:           "nes",
		Extensions:    []string{".nes"},
		DatName:       "Nintendo - Nintendo Entertainment System",
		ThumbnailRepo: "Nintendo_-_Nintendo_Entertainment_System",
	},
	"gb": {
		Key:           "gb",
		Extensions:    []string{".gb"},
		DatName:       "Nintendo - Game Boy",
		ThumbnailRepo: "Nintendo_-_Game_Boy",
	},
	"gbc": {
		Key:           "gbc",
		Extensions:    []string{".gbc"},
		DatName:       "Nintendo - Game Boy Color",
		ThumbnailRepo: "Nintendo_-_Game_Boy_Color",
		MirrorKeys:    []string{"gb"},
	},
	"gba": {
		Key:           "gba",
		Extensions:    []string{".gba"},
		DatName:       "Nintendo - Game Boy Advance",
		ThumbnailRepo: "Nintendo_-_Game_Boy_Advance",
	},
	"gg": {
		Key:           "gg",
		Extensions:    []string{".gg"},
		DatName:       "Sega - Game Gear",
		ThumbnailRepo: "Sega_-_Game_Gear",
	},
	"sms": {
		Key:           "sms",
		Extensions:    []string{".sms"},
		DatName:       "Sega - Master System",
		ThumbnailRepo: "Sega_-_Master_System",
	},
	"md": {
		Key:           "md",
		Extensions:    []string{".gen", ".smd", ".bin", ".md"},
		DatName:       "Sega - Mega Drive - Genesis",
		ThumbnailRepo: "Sega_-_Mega_Drive_-_Genesis",
	},
}

// byExtension is derived from platforms once at init.
var byExtension = func() map[string]string {
	m := make(map[string]string)
	for key, p := range platforms {
		for _, ext := range p.Extensions {
			m[ext] = key
		}
	}
	return m
}()

// Lookup returns a copy of the platform registered under key.
func Lookup(key string) (Platform, bool) {
	p, ok := platforms[key]
	if !ok {
		return Platform{}, false
	}
	return p.clone(), true
}

// ForExtension returns the platform that owns ext. The match is
// case-insensitive and ext must include the leading dot.
func ForExtension(ext string) (Platform, bool) {
	key, ok := byExtension[strings.ToLower(ext)]
	if !ok {
		return Platform{}, false
	}
	return Lookup(key)
}

// IsRomExtension reports whether ext belongs to any supported platform.
func IsRomExtension(ext string) bool {
	_, ok := byExtension[strings.ToLower(ext)]
	return ok
}

// StripRomExtension removes a trailing ROM extension from name. Other
// suffixes are kept, so "Game v1.1 (USA)" is returned unchanged.
func StripRomExtension(name string) string {
	ext := filepath.Ext(name)
	if ext == "" || !IsRomExtension(ext) {
		return name
	}
	return strings.TrimSuffix(name, ext)
}

// All returns every platform sorted by key.
func All() []Platform {
	out := make([]Platform, 0, len(platforms))
	for _, p := range platforms {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Keys returns the sorted platform keys.
func Keys() []string {
	all := All()
	keys := make([]string, len(all))
	for i, p := range all {
		keys[i] = p.Key
	}
	return keys
}

// Mirrors returns the ordered thumbnail repositories to try for p: its own
// repository first, then those of its MirrorKeys.
func Mirrors(p Platform) []string {
	repos := []string{p.ThumbnailRepo}
	for _, k := range p.MirrorKeys {
		if sibling, ok := platforms[k]; ok {
			repos = append(repos, sibling.ThumbnailRepo)
		}
	}
	return repos
}

func (p Platform) clone() Platform {
	p.Extensions = append([]string(nil), p.Extensions...)
	p.MirrorKeys = append([]string(nil), p.MirrorKeys...)
	return p
}
