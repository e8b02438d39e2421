package relay

import (
	"github.com/ThreeDotsLabs/watermill"

	bridgepkg "github.com/drblury/relay/internal/runtime/bridge"
	buspkg "github.com/drblury/relay/internal/runtime/bus"
	codecpkg "github.com/drblury/relay/internal/runtime/codec"
	configpkg "github.com/drblury/relay/internal/runtime/config"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	idspkg "github.com/drblury/relay/internal/runtime/ids"
	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
	metadatapkg "github.com/drblury/relay/internal/runtime/metadata"
	modelpkg "github.com/drblury/relay/internal/runtime/model"
	storepkg "github.com/drblury/relay/internal/runtime/store"
)

type (
	Config          = configpkg.Config
	Duration        = configpkg.Duration
	Bus             = buspkg.Bus
	BusDependencies = buspkg.BusDependencies
	ChannelInfo     = buspkg.ChannelInfo

	Envelope    = modelpkg.Envelope
	Identifier  = modelpkg.Identifier
	MessageType = modelpkg.MessageType
	Metadata    = metadatapkg.Metadata

	Transaction        = buspkg.Transaction
	Option             = buspkg.Option
	MessageHandlerFunc = buspkg.MessageHandlerFunc
	MessageHandler     = buspkg.MessageHandler
	HandlerConfig      = buspkg.HandlerConfig

	// Responders
	Responder        = buspkg.Responder
	ResponderContext = buspkg.ResponderContext
	ResponderHooks   = buspkg.ResponderHooks
	ResponderError   = errspkg.ResponderError
	PanicError       = errspkg.PanicError

	// Stores
	Store[T any]           = storepkg.Store[T]
	StoreOption            = storepkg.Option
	Change[T any]          = storepkg.Change[T]
	Stream[T any]          = storepkg.Stream[T]
	MutationRequest[T any] = storepkg.MutationRequest[T]
	MutationStream[T any]  = storepkg.MutationStream[T]
	StoreManager           = storepkg.Manager

	// Watermill bridge
	Publisher        = bridgepkg.Publisher
	PublisherConfig  = bridgepkg.PublisherConfig
	Subscriber       = bridgepkg.Subscriber
	SubscriberConfig = bridgepkg.SubscriberConfig
	PayloadCodec     = codecpkg.PayloadCodec
	JSONCodec        = codecpkg.JSON

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger
)

// Envelope types.
const (
	Request  = modelpkg.Request
	Response = modelpkg.Response
	Error    = modelpkg.Error
)

// Metadata keys reserved by the bus and the Watermill bridge.
const (
	MetadataKeyFrom        = metadatapkg.KeyFrom
	MetadataKeyMessageID   = metadatapkg.KeyMessageID
	MetadataKeyMessageType = metadatapkg.KeyMessageType
	MetadataKeyChannel     = metadatapkg.KeyChannel
	MetadataKeyVersion     = metadatapkg.KeyVersion
)

var (
	NewBus         = buspkg.NewBus
	TryNewBus      = buspkg.TryNewBus
	DefaultConfig  = configpkg.Default
	LoadConfig     = configpkg.Load
	ParseConfig    = configpkg.Parse
	ValidateConfig = configpkg.ValidateConfig

	WithID            = buspkg.WithID
	WithFrom          = buspkg.WithFrom
	WithMetadata      = buspkg.WithMetadata
	WithVersion       = buspkg.WithVersion
	WithReturnChannel = buspkg.WithReturnChannel
	WithErrorHandler  = buspkg.WithErrorHandler

	LoggingHooks = buspkg.LoggingHooks
	MetricsHooks = buspkg.MetricsHooks

	NewStoreManager          = storepkg.NewManager
	WithResetClearsReadiness = storepkg.WithResetClearsReadiness
	StoreStateChannel        = storepkg.StateChannel
	StoreMutationChannel     = storepkg.MutationChannel

	NewEnvelope      = modelpkg.NewEnvelope
	ParseMessageType = modelpkg.ParseMessageType
	NewMetadata      = metadatapkg.New
	NewIdentifier    = idspkg.NewIdentifier
	ParseIdentifier  = idspkg.ParseIdentifier
	CreateULID       = idspkg.CreateULID

	Marshal     = codecpkg.Marshal
	Unmarshal   = codecpkg.Unmarshal
	DecodeProto = codecpkg.DecodeProto

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewWatermillAdapter       = loggingpkg.NewWatermillAdapter
	NopLogger                 = loggingpkg.NopLogger

	ErrChannelRequired     = errspkg.ErrChannelRequired
	ErrChannelNotFound     = errspkg.ErrChannelNotFound
	ErrBusRequired         = errspkg.ErrBusRequired
	ErrBusClosed           = errspkg.ErrBusClosed
	ErrHandlerRequired     = errspkg.ErrHandlerRequired
	ErrHandlerClosed       = errspkg.ErrHandlerClosed
	ErrResponderRequired   = errspkg.ErrResponderRequired
	ErrCallbackPanic       = errspkg.ErrCallbackPanic
	ErrConfigRequired      = errspkg.ErrConfigRequired
	ErrLoggerRequired      = errspkg.ErrLoggerRequired
	ErrStoreNameRequired   = errspkg.ErrStoreNameRequired
	ErrStoreNotFound       = errspkg.ErrStoreNotFound
	ErrStoreTypeMismatch   = errspkg.ErrStoreTypeMismatch
	ErrMutationNotAnswered = errspkg.ErrMutationNotAnswered
)

// NewStore creates a standalone store on b. Stores shared by name across
// components should be opened through a StoreManager instead.
func NewStore[T any](b *Bus, name string, opts ...StoreOption) (*Store[T], error) {
	return storepkg.New[T](b, name, opts...)
}

// OpenStore returns the store registered under name, creating it on first use.
func OpenStore[T any](m *StoreManager, name string, opts ...StoreOption) (*Store[T], error) {
	return storepkg.Open[T](m, name, opts...)
}

// GetStore returns an existing store without creating it.
func GetStore[T any](m *StoreManager, name string) (*Store[T], error) {
	return storepkg.Get[T](m, name)
}

func PayloadAs[T any](env Envelope) (T, bool) {
	return modelpkg.PayloadAs[T](env)
}

func NewPublisher(b *Bus, conf PublisherConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	return bridgepkg.NewPublisher(b, conf, logger)
}

func NewSubscriber(b *Bus, conf SubscriberConfig, logger watermill.LoggerAdapter) (*Subscriber, error) {
	return bridgepkg.NewSubscriber(b, conf, logger)
}
