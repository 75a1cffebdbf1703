package versions

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetVersionInfoWithValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		version       string
		commit        string
		buildDate     string
		wantVersion   string
		wantBuildDate string
	}{
		{
			name:          "release build",
			version:       "v1.2.3",
			commit:        "0123456789abcdef",
			buildDate:     "2025-03-01T12:00:00Z",
			wantVersion:   "v1.2.3",
			wantBuildDate: "2025-03-01 12:00:00 UTC",
		},
		{
			name:          "unparseable build date is kept",
			version:       "v1.2.3",
			commit:        "0123456789abcdef",
			buildDate:     "yesterday",
			wantVersion:   "v1.2.3",
			wantBuildDate: "yesterday",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			info := getVersionInfoWithValues(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.wantVersion, info.Version)
			assert.Equal(t, tt.commit, info.Commit)
			assert.Equal(t, tt.wantBuildDate, info.BuildDate)
			assert.Equal(t, runtime.Version(), info.GoVersion)
			assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
		})
	}
}

func TestGetVersionInfoWithValues_DevBuildUsesCommit(t *testing.T) {
	t.Parallel()

	info := getVersionInfoWithValues("dev", "0123456789abcdef", unknownStr)

	assert.Equal(t, "build-01234567", info.Version)
}

func TestUserAgent(t *testing.T) {
	t.Parallel()

	ua := UserAgent()

	assert.True(t, strings.HasPrefix(ua, Product+"/"+GetVersionInfo().Version+" "))
	assert.True(t, strings.HasSuffix(ua, "("+runtime.GOOS+"/"+runtime.GOARCH+")"))
}
