package main

import "time"

type Config struct {
	BadgerFilepath  string        `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath   string        `env:"BLUGE_FILEPATH,required=true"`
	LogLevel        string        `env:"LOG_LEVEL,default=info"`
	Host            string        `env:"HOST,default=localhost"`
	Port            int           `env:"PORT,default=8080"`
	DebugPort       int           `env:"DEBUG_PORT"`
	HistoryLimit    int           `env:"HISTORY_LIMIT,default=20"`
	RingCapacity    int           `env:"RING_CAPACITY,default=1000"`
	MaxRoomMembers  int           `env:"MAX_ROOM_MEMBERS,default=100"`
	SendRatePerMin  int           `env:"SEND_RATE_PER_MINUTE,default=10"`
	SendBurst       int           `env:"SEND_BURST,default=10"`
	SinkBufferSize  int           `env:"SINK_BUFFER_SIZE,default=64"`
	SinkTimeout     time.Duration `env:"SINK_TIMEOUT,default=2s"`
	DeliveryTimeout time.Duration `env:"DELIVERY_TIMEOUT,default=2s"`
	MetricInterval  time.Duration `env:"METRIC_INTERVAL,default=5s"`
}
