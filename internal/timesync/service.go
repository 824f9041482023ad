// Package timesync streams playback status samples to gRPC observers so remote
// tools can follow the viewer's clock.
package timesync

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"driftpursuit/viewer/internal/logging"
	"driftpursuit/viewer/internal/telemetry"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "driftpursuit.viewer.v1.PlaybackStatus"
	watchMethod = "Watch"
)

// WatchStream is the server side of a Watch call.
type WatchStream = grpc.ServerStreamingServer[structpb.Struct]

// PlaybackStatusServer is implemented by Service.
type PlaybackStatusServer interface {
	Watch(req *wrapperspb.StringValue, stream WatchStream) error
}

// statusSource captures what the service needs from the status board.
type statusSource interface {
	Latest() (telemetry.Snapshot, bool)
}

// Service exposes the playback status board as a server stream.
type Service struct {
	source   statusSource
	interval time.Duration
	clock    clockwork.Clock
	log      *logging.Logger
}

// NewService wires a status source into the gRPC transport.
func NewService(source statusSource, interval time.Duration, clock clockwork.Clock, logger *logging.Logger) *Service {
	if interval <= 0 {
		interval = time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = logging.L()
	}
	return &Service{source: source, interval: interval, clock: clock, log: logger}
}

// Watch pushes a status sample immediately and then at the configured cadence.
// The request carries an optional client label used in logs.
func (s *Service) Watch(req *wrapperspb.StringValue, stream WatchStream) error {
	if s == nil || s.source == nil {
		return status.Error(codes.Unavailable, "playback status unavailable")
	}
	clientID := "grpc-client"
	if req.GetValue() != "" {
		clientID = req.GetValue()
	}
	log := s.log.With(logging.String("client", clientID))
	log.Debug("status watch opened")
	defer log.Debug("status watch closed")

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	//1.- Emit an initial sample immediately to minimise startup skew.
	if err := s.sendSample(stream); err != nil {
		return err
	}
	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case <-ticker.Chan():
			//2.- Stream successive samples at the configured cadence.
			if err := s.sendSample(stream); err != nil {
				return err
			}
		}
	}
}

func (s *Service) sendSample(stream WatchStream) error {
	snapshot, ok := s.source.Latest()
	if !ok {
		//1.- Nothing has rendered yet; skip rather than send zeroes.
		return nil
	}
	sample, err := structpb.NewStruct(snapshot.Fields())
	if err != nil {
		return status.Errorf(codes.Internal, "encode status: %v", err)
	}
	return stream.Send(sample)
}

// Register attaches the service to a gRPC server.
func Register(server grpc.ServiceRegistrar, svc PlaybackStatusServer) {
	server.RegisterService(&ServiceDesc, svc)
}

// ServiceDesc describes the PlaybackStatus service without generated stubs.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PlaybackStatusServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    watchMethod,
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "driftpursuit/viewer/v1/playback_status.proto",
}

// WatchMethod is the full method name used by clients and interceptors.
const WatchMethod = "/" + ServiceName + "/" + watchMethod

func watchHandler(srv any, stream grpc.ServerStream) error {
	req := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(PlaybackStatusServer).Watch(req, &grpc.GenericServerStream[wrapperspb.StringValue, structpb.Struct]{ServerStream: stream})
}

// WatchClient opens a Watch stream over conn.
func WatchClient(ctx context.Context, conn grpc.ClientConnInterface, clientID string, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], WatchMethod, opts...)
	if err != nil {
		return nil, err
	}
	client := &grpc.GenericClientStream[wrapperspb.StringValue, structpb.Struct]{ClientStream: stream}
	if err := client.ClientStream.SendMsg(wrapperspb.String(clientID)); err != nil {
		return nil, err
	}
	if err := client.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return client, nil
}

var _ PlaybackStatusServer = (*Service)(nil)
