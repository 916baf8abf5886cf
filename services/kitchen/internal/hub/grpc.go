package hub

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/appetiteclub/apt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// CodecName is the gRPC content subtype display clients must request.
const CodecName = "json"

const (
	metadataUserID   = "x-user-id"
	metadataUserRole = "x-user-role"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

// StreamRequest opens a display stream.
type StreamRequest struct {
	Stations []string          `json:"stations,omitempty"`
	All      bool              `json:"all,omitempty"`
	Cursors  map[string]uint64 `json:"cursors,omitempty"`
}

type displayStream interface {
	Subscribe(req *StreamRequest, stream grpc.ServerStream) error
}

// DisplayStreamDesc describes kds.DisplayStream, a single server-streaming
// method answering a StreamRequest with Frames.
var DisplayStreamDesc = grpc.ServiceDesc{
	ServiceName: "kds.DisplayStream",
	HandlerType: (*displayStream)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "kds/display_stream",
}

// SubscribeMethod is the full method name for client streams.
const SubscribeMethod = "/kds.DisplayStream/Subscribe"

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(StreamRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(displayStream).Subscribe(req, stream)
}

// GRPCServer serves display streams over gRPC.
type GRPCServer struct {
	hub    *Hub
	logger apt.Logger
}

func NewGRPCServer(h *Hub, logger apt.Logger) *GRPCServer {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &GRPCServer{hub: h, logger: logger}
}

// RegisterGRPCService registers the display stream with the gRPC server.
func (s *GRPCServer) RegisterGRPCService(server *grpc.Server) {
	server.RegisterService(&DisplayStreamDesc, s)
}

func (s *GRPCServer) Subscribe(req *StreamRequest, stream grpc.ServerStream) error {
	ctx := stream.Context()

	sub, err := s.hub.Subscribe(ctx, SubscribeRequest{
		Identity: identityFromMetadata(ctx),
		Stations: req.Stations,
		All:      req.All,
		Cursors:  req.Cursors,
	})
	if err != nil {
		return subscribeStatus(err)
	}
	defer sub.Close()

	s.logger.Info("gRPC display connected", "subscription_id", sub.ID)

	err = pump(ctx, sub, s.hub.Config().KeepAlive, func(f Frame) error {
		return stream.SendMsg(&f)
	})

	s.logger.Info("gRPC display disconnected", "subscription_id", sub.ID, "reason", err)
	switch {
	case errors.Is(err, ErrSubscriptionClosed):
		return status.Error(codes.Unavailable, "subscription closed, reconnect with last cursors")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return err
	}
}

func identityFromMetadata(ctx context.Context) Identity {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return Identity{}
	}
	var id Identity
	if v := md.Get(metadataUserID); len(v) > 0 {
		id.UserID = v[0]
	}
	if v := md.Get(metadataUserRole); len(v) > 0 {
		id.Role = v[0]
	}
	return id
}

func subscribeStatus(err error) error {
	switch {
	case errors.Is(err, ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, ErrUnknownStation):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrNoStations):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
