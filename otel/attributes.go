package otel

import (
	"go.opentelemetry.io/otel/attribute"
)

const (
	AttrMessagingSystem    = attribute.Key("messaging.system")
	AttrMessagingOperation = attribute.Key("messaging.operation.type")
	AttrDestination        = attribute.Key("messaging.destination.name")
	AttrPartition          = attribute.Key("messaging.destination.partition.id")
	AttrOffset             = attribute.Key("messaging.kafka.offset")
	AttrConsumerGroup      = attribute.Key("messaging.consumer.group.name")

	AttrPipeline        = attribute.Key("transformer.pipeline")
	AttrTransformStatus = attribute.Key("transformer.transform.status")
	AttrPollStatus      = attribute.Key("transformer.poll.status")
	AttrOrderPolicy     = attribute.Key("transformer.order_policy")
	AttrErrorAction     = attribute.Key("transformer.error.action")
	AttrErrorPhase      = attribute.Key("transformer.error.phase")
)

// Transform status values
const (
	StatusSuccess  = "success"
	StatusFiltered = "filtered"
	StatusFailed   = "failed"
	StatusError    = "error"
)

const MessagingSystemKafka = "kafka"
