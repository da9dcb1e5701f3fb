package esclient

import (
	"fmt"
)

type Command byte

const (
	CommandHeartbeatRequest  Command = 0x01
	CommandHeartbeatResponse Command = 0x02

	CommandWriteEvents          Command = 0x82
	CommandWriteEventsCompleted Command = 0x83

	CommandReadStreamEventsForward          Command = 0xB2
	CommandReadStreamEventsForwardCompleted Command = 0xB3

	CommandSubscribeToStream        Command = 0xC0
	CommandSubscriptionConfirmation Command = 0xC1
	CommandStreamEventAppeared      Command = 0xC2
	CommandUnsubscribeFromStream    Command = 0xC3
	CommandSubscriptionDropped      Command = 0xC4

	CommandBadRequest       Command = 0xF0
	CommandNotAuthenticated Command = 0xF4
)

func (self Command) String() string {
	switch self {
	case CommandHeartbeatRequest:
		return "HeartbeatRequest"
	case CommandHeartbeatResponse:
		return "HeartbeatResponse"
	case CommandWriteEvents:
		return "WriteEvents"
	case CommandWriteEventsCompleted:
		return "WriteEventsCompleted"
	case CommandReadStreamEventsForward:
		return "ReadStreamEventsForward"
	case CommandReadStreamEventsForwardCompleted:
		return "ReadStreamEventsForwardCompleted"
	case CommandSubscribeToStream:
		return "SubscribeToStream"
	case CommandSubscriptionConfirmation:
		return "SubscriptionConfirmation"
	case CommandStreamEventAppeared:
		return "StreamEventAppeared"
	case CommandUnsubscribeFromStream:
		return "UnsubscribeFromStream"
	case CommandSubscriptionDropped:
		return "SubscriptionDropped"
	case CommandBadRequest:
		return "BadRequest"
	case CommandNotAuthenticated:
		return "NotAuthenticated"
	default:
		return fmt.Sprintf("Command(0x%02X)", byte(self))
	}
}

type Flags byte

const (
	FlagsNone         Flags = 0x00
	FlagAuthenticated Flags = 0x01
)

const (
	packageCommandOffset     = 0
	packageFlagsOffset       = packageCommandOffset + 1
	packageCorrelationOffset = packageFlagsOffset + 1
	packageAuthOffset        = packageCorrelationOffset + 16

	packageMandatorySize = packageAuthOffset

	maxCredentialLength = 255
)

// Package is the protocol envelope carried by one frame: command byte, flags,
// 16-byte correlation id, optional login/password (present iff the
// Authenticated flag is set), and an opaque payload.
// Constructed fresh per operation and immutable after construction.
type Package struct {
	Command       Command
	Flags         Flags
	CorrelationId Id
	Login         string
	Password      string
	Payload       []byte
}

func NewPackage(command Command, correlationId Id, payload []byte) *Package {
	return &Package{
		Command:       command,
		Flags:         FlagsNone,
		CorrelationId: correlationId,
		Payload:       payload,
	}
}

func NewAuthenticatedPackage(
	command Command,
	correlationId Id,
	login string,
	password string,
	payload []byte,
) (*Package, error) {
	if maxCredentialLength < len(login) {
		return nil, fmt.Errorf("login must be at most %d bytes: %d", maxCredentialLength, len(login))
	}
	if maxCredentialLength < len(password) {
		return nil, fmt.Errorf("password must be at most %d bytes: %d", maxCredentialLength, len(password))
	}
	return &Package{
		Command:       command,
		Flags:         FlagAuthenticated,
		CorrelationId: correlationId,
		Login:         login,
		Password:      password,
		Payload:       payload,
	}, nil
}

func (self *Package) Encode() ([]byte, error) {
	if self.Flags&FlagAuthenticated != 0 {
		loginLength := len(self.Login)
		passwordLength := len(self.Password)
		if maxCredentialLength < loginLength {
			return nil, fmt.Errorf("login must be at most %d bytes: %d", maxCredentialLength, loginLength)
		}
		if maxCredentialLength < passwordLength {
			return nil, fmt.Errorf("password must be at most %d bytes: %d", maxCredentialLength, passwordLength)
		}

		data := make([]byte, packageMandatorySize+2+loginLength+passwordLength+len(self.Payload))
		data[packageCommandOffset] = byte(self.Command)
		data[packageFlagsOffset] = byte(self.Flags)
		copy(data[packageCorrelationOffset:], self.CorrelationId.Bytes())
		data[packageAuthOffset] = byte(loginLength)
		copy(data[packageAuthOffset+1:], self.Login)
		data[packageAuthOffset+1+loginLength] = byte(passwordLength)
		copy(data[packageAuthOffset+1+loginLength+1:], self.Password)
		copy(data[len(data)-len(self.Payload):], self.Payload)
		return data, nil
	}

	data := make([]byte, packageMandatorySize+len(self.Payload))
	data[packageCommandOffset] = byte(self.Command)
	data[packageFlagsOffset] = byte(self.Flags)
	copy(data[packageCorrelationOffset:], self.CorrelationId.Bytes())
	copy(data[packageMandatorySize:], self.Payload)
	return data, nil
}

func DecodePackage(data []byte) (*Package, error) {
	if len(data) < packageMandatorySize {
		return nil, fmt.Errorf("package too short: %d bytes", len(data))
	}

	command := Command(data[packageCommandOffset])
	flags := Flags(data[packageFlagsOffset])
	correlationId := RequireIdFromBytes(data[packageCorrelationOffset:packageAuthOffset])

	headerSize := packageMandatorySize
	login := ""
	password := ""
	if flags&FlagAuthenticated != 0 {
		if len(data) <= packageAuthOffset {
			return nil, fmt.Errorf("authenticated package has no login length byte: %d bytes", len(data))
		}
		loginLength := int(data[packageAuthOffset])
		if len(data) <= packageAuthOffset+1+loginLength {
			return nil, fmt.Errorf("login does not fit into package: %d bytes", loginLength)
		}
		login = string(data[packageAuthOffset+1 : packageAuthOffset+1+loginLength])

		passwordOffset := packageAuthOffset + 1 + loginLength
		passwordLength := int(data[passwordOffset])
		if len(data) < passwordOffset+1+passwordLength {
			return nil, fmt.Errorf("password does not fit into package: %d bytes", passwordLength)
		}
		password = string(data[passwordOffset+1 : passwordOffset+1+passwordLength])

		headerSize = passwordOffset + 1 + passwordLength
	}

	return &Package{
		Command:       command,
		Flags:         flags,
		CorrelationId: correlationId,
		Login:         login,
		Password:      password,
		Payload:       data[headerSize:],
	}, nil
}
