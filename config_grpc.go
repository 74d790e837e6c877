package main

import (
	"context"

	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/structpb"
)

// Save configuration to yaml file.
func (s *GRPCServer) SaveConfig(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	log.Println("Saving configurations.")
	err := SaveConfig()
	if err != nil {
		return nil, rpcError(err)
	}
	return emptyReply(), nil
}

// Reload the configuration from the yaml file.
func (s *GRPCServer) ReloadConfig(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	log.Println("Reloading configurations.")
	config := ReadConfig()
	err := ApplyConfig(config)
	if err != nil {
		log.Println(err)
		return nil, rpcError(err)
	}
	return emptyReply(), nil
}
