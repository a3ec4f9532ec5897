package upload

import (
	"context"
	"fmt"
	"sync"

	"github.com/bitrise-io/go-utils/v2/analytics"
)

type fakeEnvRepo struct {
	envVars map[string]string
}

func (repo fakeEnvRepo) Get(key string) string {
	value, ok := repo.envVars[key]
	if ok {
		return value
	} else {
		return ""
	}
}

func (repo fakeEnvRepo) Set(key, value string) error {
	repo.envVars[key] = value
	return nil
}

func (repo fakeEnvRepo) Unset(key string) error {
	repo.envVars[key] = ""
	return nil
}

func (repo fakeEnvRepo) List() []string {
	envs := []string{}
	for k, v := range repo.envVars {
		envs = append(envs, fmt.Sprintf("%s=%s", k, v))
	}
	return envs
}

type fakeAssetService struct {
	assetID     string
	createErr   error
	metadataErr error
	linksErr    error

	createCalls int
	metadata    map[string]string
	links       []Link
}

func (f *fakeAssetService) CreateAsset(ctx context.Context, databaseID string, details AssetDetails) (string, error) {
	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.assetID, nil
}

func (f *fakeAssetService) AttachMetadata(ctx context.Context, databaseID, assetID string, metadata map[string]string) error {
	if f.metadataErr != nil {
		return f.metadataErr
	}
	f.metadata = metadata
	return nil
}

func (f *fakeAssetService) CreateLinks(ctx context.Context, databaseID, assetID string, links []Link) error {
	if f.linksErr != nil {
		return f.linksErr
	}
	f.links = links
	return nil
}

type fakeTracker struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeTracker) Enqueue(eventName string, properties ...analytics.Properties) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventName)
}

func (f *fakeTracker) Wait() {}
