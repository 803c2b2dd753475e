package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/featurepipe/config"
	"github.com/YuminosukeSato/featurepipe/pkg/errors"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFixtures(t *testing.T, dir string) string {
	t.Helper()
	var train strings.Builder
	train.WriteString("id,category,amount,label\n")
	for i := 0; i < 96; i++ {
		category, label := "a", 0
		if i%2 == 1 {
			category, label = "b", 1
		}
		fmt.Fprintf(&train, "r%d,%s,%d,%d\n", i, category, i%10, label)
	}
	trainPath := filepath.Join(dir, "train.csv")
	batchPath := filepath.Join(dir, "batch.csv")
	require.NoError(t, os.WriteFile(trainPath, []byte(train.String()), 0o644))
	require.NoError(t, os.WriteFile(batchPath, []byte("id,category,amount\nc1,a,1\nc2,b,2\nc3,b,3\n"), 0o644))

	cfg := config.Default()
	cfg.ModelName = "cli-test"
	cfg.LogLevel = "error"
	cfg.Store.CSV = config.CSVConfig{TrainPath: trainPath, BatchPath: batchPath}
	cfg.Registry.Dir = filepath.Join(dir, "models")
	cfg.Training.Epochs = 5
	cfg.Training.LearningRate = 0.01

	cfgPath := filepath.Join(dir, "featurepipe.yaml")
	require.NoError(t, config.Save(cfgPath, cfg))
	return cfgPath
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "featurepipe.yaml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	_, err = execute(t, "config", "init", path)
	assert.Error(t, err, "existing files are not overwritten")

	_, err = execute(t, "config", "init", "--force", path)
	assert.NoError(t, err)
}

func TestTrainAndPredict(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFixtures(t, dir)
	lossCurve := filepath.Join(dir, "loss.png")

	out, err := execute(t, "train", "--config", cfgPath, "--loss-curve", lossCurve)
	require.NoError(t, err)
	var trained struct {
		Name    string             `json:"name"`
		Version int                `json:"version"`
		RunID   string             `json:"run_id"`
		Metrics map[string]float64 `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &trained))
	assert.Equal(t, "cli-test", trained.Name)
	assert.Equal(t, 1, trained.Version)
	assert.NotEmpty(t, trained.RunID)
	assert.Contains(t, trained.Metrics, "accuracy")
	assert.FileExists(t, lossCurve)

	_, err = execute(t, "train", "--config", cfgPath)
	require.NoError(t, err)

	out, err = execute(t, "versions", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "1\n2\n", out)

	out, err = execute(t, "predict", "batch", "--config", cfgPath, "--model-version", "1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "id,category,amount,probability", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "c1,a,1,"))

	out, err = execute(t, "predict", "online", "--config", cfgPath, "--key", "c3", "--key", "c1")
	require.NoError(t, err)
	var scored []struct {
		Key         string  `json:"key"`
		Probability float64 `json:"probability"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &scored))
	require.Len(t, scored, 2)
	assert.Equal(t, "c3", scored[0].Key)
	assert.Equal(t, "c1", scored[1].Key)
	for _, s := range scored {
		assert.GreaterOrEqual(t, s.Probability, 0.0)
		assert.LessOrEqual(t, s.Probability, 1.0)
	}

	_, err = execute(t, "predict", "online", "--config", cfgPath, "--key", "nope")
	var nf *errors.FeatureVectorNotFoundError
	assert.True(t, errors.As(err, &nf))

	_, err = execute(t, "predict", "batch", "--config", cfgPath, "--model-version", "7")
	var anf *errors.ArtifactNotFoundError
	assert.True(t, errors.As(err, &anf))
}

func TestMissingConfig(t *testing.T) {
	_, err := execute(t, "versions", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "featurepipe v"+version)
}
