package kvs

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideo"
	kvtypes "github.com/aws/aws-sdk-go-v2/service/kinesisvideo/types"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideoarchivedmedia"
	archivedtypes "github.com/aws/aws-sdk-go-v2/service/kinesisvideoarchivedmedia/types"
)

// ControlPlane is the two-step video-streams control plane protocol spec
// §4.4 describes: resolve a data-plane endpoint, then mint a session URL
// against it. Abstracted so the state machine can be tested without a live
// account.
type ControlPlane interface {
	GetDataEndpoint(ctx context.Context, streamName string) (string, error)
	GetHLSStreamingSessionURL(ctx context.Context, dataEndpoint, streamName string, sessionSeconds int) (string, error)
}

// awsControlPlane is the production ControlPlane, backed by the two
// dedicated client types the protocol requires: kinesisvideo for control
// actions shared by every plane, and kinesisvideoarchivedmedia scoped to
// the resolved data endpoint for the HLS URL itself.
type awsControlPlane struct {
	region string
	video  *kinesisvideo.Client
	newArchived func(endpoint string) archivedMediaAPI
}

type archivedMediaAPI interface {
	GetHLSStreamingSessionURL(ctx context.Context, params *kinesisvideoarchivedmedia.GetHLSStreamingSessionURLInput, optFns ...func(*kinesisvideoarchivedmedia.Options)) (*kinesisvideoarchivedmedia.GetHLSStreamingSessionURLOutput, error)
}

// NewAWSControlPlane constructs the production control plane from a
// resolved AWS config (credential chain + region resolution handled by the
// caller via aws-sdk-go-v2/config, per spec §6's env var contract).
func NewAWSControlPlane(cfg aws.Config) ControlPlane {
	return &awsControlPlane{
		region: cfg.Region,
		video:  kinesisvideo.NewFromConfig(cfg),
		newArchived: func(endpoint string) archivedMediaAPI {
			return kinesisvideoarchivedmedia.NewFromConfig(cfg, func(o *kinesisvideoarchivedmedia.Options) {
				o.BaseEndpoint = aws.String(endpoint)
			})
		},
	}
}

func (p *awsControlPlane) GetDataEndpoint(ctx context.Context, streamName string) (string, error) {
	out, err := p.video.GetDataEndpoint(ctx, &kinesisvideo.GetDataEndpointInput{
		StreamName: aws.String(streamName),
		APIName:    kvtypes.APINameGetHlsStreamingSessionUrl,
	})
	if err != nil {
		return "", fmt.Errorf("kvs: get_data_endpoint: %w", err)
	}
	if out.DataEndpoint == nil {
		return "", fmt.Errorf("kvs: get_data_endpoint returned no endpoint")
	}
	return *out.DataEndpoint, nil
}

func (p *awsControlPlane) GetHLSStreamingSessionURL(ctx context.Context, dataEndpoint, streamName string, sessionSeconds int) (string, error) {
	client := p.newArchived(dataEndpoint)
	expires := int32(sessionSeconds)
	out, err := client.GetHLSStreamingSessionURL(ctx, &kinesisvideoarchivedmedia.GetHLSStreamingSessionURLInput{
		StreamName: aws.String(streamName),
		PlaybackMode:  archivedtypes.HLSPlaybackModeLive,
		DiscontinuityMode: archivedtypes.HLSDiscontinuityModeAlways,
		ContainerFormat:   archivedtypes.ContainerFormatFragmentedMp4,
		Expires:    aws.Int32(expires),
	})
	if err != nil {
		return "", fmt.Errorf("kvs: get_hls_streaming_session_url: %w", err)
	}
	if out.HLSStreamingSessionURL == nil {
		return "", fmt.Errorf("kvs: get_hls_streaming_session_url returned no url")
	}
	return *out.HLSStreamingSessionURL, nil
}
