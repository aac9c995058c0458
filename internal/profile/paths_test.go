package profile

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestPathsAreUnderProfileDir(t *testing.T) {
	dir := Dir("work")
	for name, p := range map[string]string{
		"socket":  SocketPath("work"),
		"lock":    LockPath("work"),
		"cache":   CacheDBPath("work"),
		"profile": ProfileConfigPath("work"),
		"log":     LogPath("work"),
	} {
		if !strings.HasPrefix(p, dir) {
			t.Errorf("%s path %q not under profile dir %q", name, p, dir)
		}
	}
}

func TestConfigPathUnderBase(t *testing.T) {
	if filepath.Dir(ConfigPath()) != BaseDir() {
		t.Errorf("config path %q not directly under base dir", ConfigPath())
	}
}

func TestLogPathInLogDir(t *testing.T) {
	if filepath.Dir(LogPath("main")) != LogDir("main") {
		t.Errorf("log path %q not in log dir %q", LogPath("main"), LogDir("main"))
	}
}
