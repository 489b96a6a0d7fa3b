package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/hugolhafner/go-transformer/kafka"
	"github.com/hugolhafner/go-transformer/record"
	"github.com/hugolhafner/go-transformer/serde"
	"github.com/hugolhafner/go-transformer/transform"
)

// Pipeline is a type-erased description of what the engine runs: where
// records come from, how they are decoded, the transform, and where results go.
type Pipeline struct {
	name        string
	inputTopics []string
	outputTopic string

	keyDeserialiser   serde.UntypedDeserialiser
	valueDeserialiser serde.UntypedDeserialiser
	keySerialiser     serde.UntypedSerialiser
	valueSerialiser   serde.UntypedSerialiser

	transform transform.UntypedFunc
}

func (p *Pipeline) Name() string {
	return p.name
}

func (p *Pipeline) InputTopics() []string {
	out := make([]string, len(p.inputTopics))
	copy(out, p.inputTopics)
	return out
}

func (p *Pipeline) OutputTopic() string {
	return p.outputTopic
}

// Decode turns a consumed record into the transform's input.
func (p *Pipeline) Decode(rec kafka.ConsumerRecord) (*record.UntypedRecord, error) {
	key, err := p.keyDeserialiser.Deserialise(rec.Topic, rec.Key)
	if err != nil {
		return nil, NewSerdeError(fmt.Errorf("deserialise key: %w", err))
	}

	value, err := p.valueDeserialiser.Deserialise(rec.Topic, rec.Value)
	if err != nil {
		return nil, NewSerdeError(fmt.Errorf("deserialise value: %w", err))
	}

	return record.NewUntyped(
		key, value, record.Metadata{
			Timestamp: rec.Timestamp,
			Headers:   rec.Headers,
			Topic:     rec.Topic,
			Partition: rec.Partition,
			Offset:    rec.Offset,
		},
	), nil
}

// Transform runs the user transform. A nil result means the record was filtered.
func (p *Pipeline) Transform(ctx context.Context, in *record.UntypedRecord) (*record.UntypedRecord, error) {
	return p.transform(ctx, in)
}

// Encode turns a transform result into the bytes handed to the producer.
// A nil key is sent as a record without a key.
func (p *Pipeline) Encode(out *record.UntypedRecord) (key, value []byte, err error) {
	if out.Key != nil {
		key, err = p.keySerialiser.Serialise(p.outputTopic, out.Key)
		if err != nil {
			return nil, nil, NewSerdeError(fmt.Errorf("serialise key: %w", err))
		}
	}

	value, err = p.valueSerialiser.Serialise(p.outputTopic, out.Value)
	if err != nil {
		return nil, nil, NewSerdeError(fmt.Errorf("serialise value: %w", err))
	}

	return key, value, nil
}

// Builder assembles a Pipeline from typed parts.
type Builder[KIn, VIn, KOut, VOut any] struct {
	name        string
	inputTopics []string
	outputTopic string

	keyIn    serde.Deserialiser[KIn]
	valueIn  serde.Deserialiser[VIn]
	keyOut   serde.Serialiser[KOut]
	valueOut serde.Serialiser[VOut]

	fn transform.Func[KIn, VIn, KOut, VOut]
}

func NewBuilder[KIn, VIn, KOut, VOut any](name string) *Builder[KIn, VIn, KOut, VOut] {
	return &Builder[KIn, VIn, KOut, VOut]{name: name}
}

func (b *Builder[KIn, VIn, KOut, VOut]) From(topics ...string) *Builder[KIn, VIn, KOut, VOut] {
	b.inputTopics = append(b.inputTopics, topics...)
	return b
}

func (b *Builder[KIn, VIn, KOut, VOut]) To(topic string) *Builder[KIn, VIn, KOut, VOut] {
	b.outputTopic = topic
	return b
}

func (b *Builder[KIn, VIn, KOut, VOut]) WithInputSerdes(
	key serde.Deserialiser[KIn], value serde.Deserialiser[VIn],
) *Builder[KIn, VIn, KOut, VOut] {
	b.keyIn = key
	b.valueIn = value
	return b
}

func (b *Builder[KIn, VIn, KOut, VOut]) WithOutputSerdes(
	key serde.Serialiser[KOut], value serde.Serialiser[VOut],
) *Builder[KIn, VIn, KOut, VOut] {
	b.keyOut = key
	b.valueOut = value
	return b
}

func (b *Builder[KIn, VIn, KOut, VOut]) Transform(fn transform.Func[KIn, VIn, KOut, VOut]) *Builder[KIn, VIn, KOut, VOut] {
	b.fn = fn
	return b
}

func (b *Builder[KIn, VIn, KOut, VOut]) Build() (*Pipeline, error) {
	var errs []error
	if b.name == "" {
		errs = append(errs, errors.New("pipeline name is required"))
	}
	if len(b.inputTopics) == 0 {
		errs = append(errs, errors.New("at least one input topic is required"))
	}
	if b.outputTopic == "" {
		errs = append(errs, errors.New("output topic is required"))
	}
	for _, t := range b.inputTopics {
		if t == b.outputTopic {
			errs = append(errs, fmt.Errorf("topic %q is both input and output", t))
		}
	}
	if b.keyIn == nil || b.valueIn == nil {
		errs = append(errs, errors.New("input serdes are required"))
	}
	if b.keyOut == nil || b.valueOut == nil {
		errs = append(errs, errors.New("output serdes are required"))
	}
	if b.fn == nil {
		errs = append(errs, errors.New("transform is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("build pipeline %q: %w", b.name, err)
	}

	return &Pipeline{
		name:              b.name,
		inputTopics:       append([]string(nil), b.inputTopics...),
		outputTopic:       b.outputTopic,
		keyDeserialiser:   serde.ToUntypedDeserialiser(b.keyIn),
		valueDeserialiser: serde.ToUntypedDeserialiser(b.valueIn),
		keySerialiser:     serde.ToUntypedSerialiser(b.keyOut),
		valueSerialiser:   serde.ToUntypedSerialiser(b.valueOut),
		transform:         b.fn.ToUntyped(),
	}, nil
}
