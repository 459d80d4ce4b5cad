package servicebus

import (
	"errors"

	"social-publisher/infrastructure/logger"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
)

var ErrNotConfigured = errors.New("servicebus: neither connection string nor namespace configured")

// NewServiceBus prefers a connection string and falls back to the namespace with the default Azure credential chain.
func NewServiceBus(namespace, connectionString string) (*azservicebus.Client, error) {
	if connectionString != "" {
		client, err := azservicebus.NewClientFromConnectionString(connectionString, nil)
		if err != nil {
			return nil, err
		}
		logger.GetLogger().Info("Service Bus client initialized from connection string")
		return client, nil
	}
	if namespace == "" {
		return nil, ErrNotConfigured
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, err
	}
	client, err := azservicebus.NewClient(namespace, cred, nil)
	if err != nil {
		return nil, err
	}
	logger.GetLogger().WithField("namespace", namespace).Info("Service Bus client initialized")
	return client, nil
}
