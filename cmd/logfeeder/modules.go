package main

// Register the feeder modules and sinks linked into this binary. Each
// package's init() registers itself with the feed registries; the command
// tree grows a subcommand per registered feeder.
import (
	_ "github.com/felixnotka/logfeeder/pkg/sink/elastic"
	_ "github.com/felixnotka/logfeeder/pkg/sink/eventhub"
	_ "github.com/felixnotka/logfeeder/pkg/sink/gcppubsub"
	_ "github.com/felixnotka/logfeeder/pkg/sink/sqs"

	_ "github.com/felixnotka/logfeeder/pkg/source/cloudwatch"
	_ "github.com/felixnotka/logfeeder/pkg/source/duo"
	_ "github.com/felixnotka/logfeeder/pkg/source/onelogin"
	_ "github.com/felixnotka/logfeeder/pkg/source/s3events"
)
