package cloudwatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"

	"github.com/felixnotka/logfeeder/pkg/config"
	"github.com/felixnotka/logfeeder/pkg/feed"
)

func init() {
	feed.RegisterSource("cloudwatch", buildSource)
}

func buildSource(ctx context.Context, env *feed.Env, _ string) (feed.Source, error) {
	if env.Feeder.LogGroupName == "" {
		return nil, fmt.Errorf("log_group_name is required for the cloudwatch feeder")
	}

	creds, err := config.ReadAWSCreds(env.Main.AWSConfigFilepath)
	if err != nil {
		return nil, err
	}
	if env.Feeder.Region != "" {
		creds.RegionName = env.Feeder.Region
	}
	cfg, err := creds.LoadAWS(ctx)
	if err != nil {
		return nil, err
	}

	env.Log.Info("connected to CloudWatch Logs",
		"logGroup", env.Feeder.LogGroupName, "region", cfg.Region)
	return NewSource(
		cloudwatchlogs.NewFromConfig(cfg),
		env.Feeder.LogGroupName,
		env.Feeder.LogStreamPrefix,
		env.Log.WithName("cloudwatch"),
	), nil
}
