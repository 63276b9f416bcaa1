package cmd

import (
	"io/ioutil"
	"os"
	"testing"

	devconfig "github.com/Daskott/guardian/dev/config"
	"github.com/stretchr/testify/assert"
)

func TestDevConfigFilePathSeedsDefaultConfig(t *testing.T) {
	wd, err := os.Getwd()
	assert.Nil(t, err)
	defer os.Chdir(wd)

	// A fresh working directory, with no dev/config tree yet
	assert.Nil(t, os.Chdir(t.TempDir()))

	configFilePath := devConfigFilePath()
	assert.FileExists(t, configFilePath)

	content, err := ioutil.ReadFile(configFilePath)
	assert.Nil(t, err)
	assert.Equal(t, devconfig.SERVER_YML, string(content))
}
