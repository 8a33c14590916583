package peer

import (
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

const subscribeMethod = "/chatrelay.v1.Relay/Subscribe"

// relayServer is implemented by the Publisher.
// Each streamed wrapperspb.BytesValue holds one UTF-8 JSON chat event.
type relayServer interface {
	Subscribe(filter *emptypb.Empty, stream grpc.ServerStream) error
}

var relayServiceDesc = grpc.ServiceDesc{
	ServiceName: "chatrelay.v1.Relay",
	HandlerType: (*relayServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "chatrelay/v1/relay.proto",
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	filter := new(emptypb.Empty)
	if err := stream.RecvMsg(filter); err != nil {
		return err
	}
	return srv.(relayServer).Subscribe(filter, stream)
}
