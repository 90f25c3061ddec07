// Package lightsail implements the managed-server account contract on AWS
// Lightsail.
package lightsail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/lightsail"
	lstypes "github.com/aws/aws-sdk-go-v2/service/lightsail/types"

	"github.com/outpost-vpn/outpost/internal/cloud"
)

// API is the subset of the Lightsail client the account uses. The SDK client
// satisfies it; tests substitute a mock.
type API interface {
	CreateInstances(ctx context.Context, params *lightsail.CreateInstancesInput, optFns ...func(*lightsail.Options)) (*lightsail.CreateInstancesOutput, error)
	GetInstance(ctx context.Context, params *lightsail.GetInstanceInput, optFns ...func(*lightsail.Options)) (*lightsail.GetInstanceOutput, error)
	GetInstances(ctx context.Context, params *lightsail.GetInstancesInput, optFns ...func(*lightsail.Options)) (*lightsail.GetInstancesOutput, error)
	DeleteInstance(ctx context.Context, params *lightsail.DeleteInstanceInput, optFns ...func(*lightsail.Options)) (*lightsail.DeleteInstanceOutput, error)
	GetOperation(ctx context.Context, params *lightsail.GetOperationInput, optFns ...func(*lightsail.Options)) (*lightsail.GetOperationOutput, error)
	OpenInstancePublicPorts(ctx context.Context, params *lightsail.OpenInstancePublicPortsInput, optFns ...func(*lightsail.Options)) (*lightsail.OpenInstancePublicPortsOutput, error)
	AllocateStaticIp(ctx context.Context, params *lightsail.AllocateStaticIpInput, optFns ...func(*lightsail.Options)) (*lightsail.AllocateStaticIpOutput, error)
	AttachStaticIp(ctx context.Context, params *lightsail.AttachStaticIpInput, optFns ...func(*lightsail.Options)) (*lightsail.AttachStaticIpOutput, error)
	ReleaseStaticIp(ctx context.Context, params *lightsail.ReleaseStaticIpInput, optFns ...func(*lightsail.Options)) (*lightsail.ReleaseStaticIpOutput, error)
	GetRegions(ctx context.Context, params *lightsail.GetRegionsInput, optFns ...func(*lightsail.Options)) (*lightsail.GetRegionsOutput, error)
	GetBundles(ctx context.Context, params *lightsail.GetBundlesInput, optFns ...func(*lightsail.Options)) (*lightsail.GetBundlesOutput, error)
}

// ClientFactory returns the API client scoped to a region. Lightsail clients
// are regional, so the account needs one per region it touches.
type ClientFactory func(region string) (API, error)

// NewClientFactory builds regional Lightsail clients for a static key pair,
// caching one client per region.
func NewClientFactory(accessKeyID, secretAccessKey string) ClientFactory {
	var mu sync.Mutex
	clients := make(map[string]API)

	return func(region string) (API, error) {
		mu.Lock()
		defer mu.Unlock()
		if c, ok := clients[region]; ok {
			return c, nil
		}
		cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to configure lightsail client: %w", err)
		}
		c := lightsail.NewFromConfig(cfg)
		clients[region] = c
		return c, nil
	}
}

// wrapErr maps a Lightsail call result into the shared error taxonomy.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var notFound *lstypes.NotFoundException
	if errors.As(err, &notFound) {
		return cloud.WrapHTTPStatus(cloud.ProviderLightsail, http.StatusNotFound, err)
	}
	var unauth *lstypes.UnauthenticatedException
	if errors.As(err, &unauth) {
		return cloud.WrapHTTPStatus(cloud.ProviderLightsail, http.StatusUnauthorized, err)
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return cloud.WrapHTTPStatus(cloud.ProviderLightsail, respErr.HTTPStatusCode(), err)
	}
	return cloud.WrapTransport(err)
}

// toAsyncOperation normalizes a Lightsail operation handle.
func toAsyncOperation(op *lstypes.Operation) cloud.AsyncOperation {
	if op == nil {
		return cloud.AsyncOperation{Status: cloud.OperationSucceeded}
	}
	out := cloud.AsyncOperation{
		ID:     deref(op.Id),
		Status: cloud.OperationPending,
	}
	if op.ResourceName != nil {
		out.TargetResourceID = *op.ResourceName
	}
	switch op.Status {
	case lstypes.OperationStatusSucceeded, lstypes.OperationStatusCompleted:
		out.Status = cloud.OperationSucceeded
	case lstypes.OperationStatusFailed:
		out.Status = cloud.OperationFailed
		out.Diagnostic = strings.TrimSpace(deref(op.ErrorCode) + " " + deref(op.ErrorDetails))
	}
	return out
}

// instanceState maps a Lightsail instance state name to the normalized state.
func instanceState(state *lstypes.InstanceState) cloud.LifecycleState {
	if state == nil || state.Name == nil {
		return cloud.StateUnknown
	}
	switch *state.Name {
	case "pending":
		return cloud.StatePending
	case "running":
		return cloud.StateRunning
	case "stopping", "stopped":
		return cloud.StateStopping
	case "terminated":
		return cloud.StateTerminated
	default:
		return cloud.StateUnknown
	}
}

// tagMap flattens Lightsail tags into the normalized tag set.
func tagMap(tags []lstypes.Tag) map[string]string {
	out := make(map[string]string)
	for _, t := range tags {
		if t.Key == nil {
			continue
		}
		out[*t.Key] = deref(t.Value)
	}
	return out
}

// zoneRegion derives the region from an availability zone: "us-east-1a" →
// "us-east-1".
func zoneRegion(zone string) string {
	return strings.TrimRight(zone, "abcdef")
}

// regionCountry maps a Lightsail region name to its country code.
func regionCountry(region string) string {
	known := map[string]string{
		"us-east-1": "US", "us-east-2": "US", "us-west-2": "US",
		"ca-central-1": "CA", "eu-west-1": "IE", "eu-west-2": "GB",
		"eu-west-3": "FR", "eu-central-1": "DE", "ap-south-1": "IN",
		"ap-northeast-1": "JP", "ap-northeast-2": "KR",
		"ap-southeast-1": "SG", "ap-southeast-2": "AU",
	}
	return known[region]
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
