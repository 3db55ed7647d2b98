package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/sirupsen/logrus"
)

// AzureStorage keeps archived collection batches in Azure Blob Storage
type AzureStorage struct {
	client        *azblob.Client
	containerName string
	logger        logrus.FieldLogger
}

// Ensure AzureStorage implements StorageInterface
var _ StorageInterface = (*AzureStorage)(nil)

// NewAzureStorage connects to accountName with the default Azure credential chain
// (managed identity in the cluster, CLI login locally) and creates the container if needed.
func NewAzureStorage(ctx context.Context, accountName, containerName string, logger logrus.FieldLogger) (*AzureStorage, error) {
	if accountName == "" {
		return nil, fmt.Errorf("storage account name is required")
	}
	if containerName == "" {
		return nil, fmt.Errorf("storage container name is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", accountName)
	client, err := azblob.NewClient(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
	}

	s := &AzureStorage{
		client:        client,
		containerName: containerName,
		logger:        logger.WithField("container", containerName),
	}

	if err := s.ensureContainer(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure container exists: %w", err)
	}

	return s, nil
}

func (s *AzureStorage) ensureContainer(ctx context.Context) error {
	_, err := s.client.CreateContainer(ctx, s.containerName, nil)
	switch {
	case err == nil:
		s.logger.Info("Created container")
	case bloberror.HasCode(err, bloberror.ContainerAlreadyExists):
		s.logger.Debug("Container already exists")
	default:
		return fmt.Errorf("failed to create container: %w", err)
	}
	return nil
}

// Store uploads data as a block blob, replacing any blob with the same name
func (s *AzureStorage) Store(ctx context.Context, name string, data []byte) error {
	_, err := s.client.UploadBuffer(ctx, s.containerName, name, data, &azblob.UploadBufferOptions{
		BlockSize:   int64(1024 * 1024),
		Concurrency: 3,
	})
	if err != nil {
		return fmt.Errorf("failed to upload blob %s: %w", name, err)
	}

	s.logger.WithField("blob", name).Debug("Stored blob")
	return nil
}

// Retrieve downloads a blob
func (s *AzureStorage) Retrieve(ctx context.Context, name string) ([]byte, error) {
	response, err := s.client.DownloadStream(ctx, s.containerName, name, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download blob %s: %w", name, err)
	}
	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", name, err)
	}
	return data, nil
}

// List returns the names of blobs under prefix
func (s *AzureStorage) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	pager := s.client.NewListBlobsFlatPager(s.containerName, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list blobs under %s: %w", prefix, err)
		}
		for _, blob := range page.Segment.BlobItems {
			if blob.Name != nil {
				names = append(names, *blob.Name)
			}
		}
	}

	return names, nil
}
