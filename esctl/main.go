package main


import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "os"
    "strconv"
    "strings"
    "log"

    "github.com/BurntSushi/toml"
    "github.com/docopt/docopt-go"
    "golang.org/x/term"

    "github.com/chronolog/esclient/esclient"
)


const EsCtlVersion = "0.0.1"


var Out *log.Logger
var Err *log.Logger

func init() {
    Out = log.New(os.Stdout, "", 0)
    Err = log.New(os.Stderr, "", log.Ldate | log.Ltime | log.Lshortfile)
}


// settings file, toml
type ctlConfig struct {
    Host           string `toml:"host"`
    Port           int    `toml:"port"`
    ConnectionName string `toml:"connection_name"`
    Login          string `toml:"login"`
    Password       string `toml:"password"`
}


func main() {
    usage := `Event log control.

The default server is 127.0.0.1:1113.

Usage:
    esctl write [--config=<config>] [--host=<host>] [--port=<port>]
        --stream=<stream>
        [--type=<type>]
        [--expected=<expected>]
        [<data>]
    esctl read [--config=<config>] [--host=<host>] [--port=<port>]
        --stream=<stream>
        [--from=<from>]
        [--count=<count>]
    esctl tail [--config=<config>] [--host=<host>] [--port=<port>]
        --stream=<stream>
        [--from=<from>]

Options:
    -h --help              Show this screen.
    --version              Show version.
    --config=<config>      Toml settings file.
    --host=<host>          Server host.
    --port=<port>          Server port.
    --stream=<stream>      Stream id.
    --type=<type>          Event type [default: message].
    --expected=<expected>  Expected version: any, nostream, streamexists,
                           or the current last event number [default: any].
    --from=<from>          Start event number [default: 0].
    --count=<count>        Max events to read [default: 100].`

    opts, err := docopt.ParseArgs(usage, os.Args[1:], EsCtlVersion)
    if err != nil {
        panic(err)
    }

    if write_, _ := opts.Bool("write"); write_ {
        write(opts)
    } else if read_, _ := opts.Bool("read"); read_ {
        read(opts)
    } else if tail_, _ := opts.Bool("tail"); tail_ {
        tail(opts)
    }
}


func connectionSettings(opts docopt.Opts) *esclient.ConnectionSettings {
    settings := esclient.DefaultConnectionSettings()
    settings.ConnectionName = "esctl"

    if configPath, err := opts.String("--config"); err == nil && configPath != "" {
        var config ctlConfig
        if _, err := toml.DecodeFile(configPath, &config); err != nil {
            Err.Fatalf("Cannot read config (%s).", err)
        }
        if config.Host != "" {
            settings.Host = config.Host
        }
        if config.Port != 0 {
            settings.Port = config.Port
        }
        if config.ConnectionName != "" {
            settings.ConnectionName = config.ConnectionName
        }
        if config.Login != "" {
            password := config.Password
            if password == "" {
                fmt.Fprintf(os.Stderr, "Password for %s: ", config.Login)
                passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
                fmt.Fprintf(os.Stderr, "\n")
                if err != nil {
                    Err.Fatalf("Cannot read password (%s).", err)
                }
                password = string(passwordBytes)
            }
            settings.DefaultCredentials = &esclient.UserCredentials{
                Login: config.Login,
                Password: password,
            }
        }
    }

    if host, err := opts.String("--host"); err == nil && host != "" {
        settings.Host = host
    }
    if port, err := opts.Int("--port"); err == nil && port != 0 {
        settings.Port = port
    }

    return settings
}


func parseExpectedVersion(expectedStr string) (int64, error) {
    switch strings.ToLower(expectedStr) {
    case "any":
        return esclient.ExpectedVersionAny, nil
    case "nostream":
        return esclient.ExpectedVersionNoStream, nil
    case "streamexists":
        return esclient.ExpectedVersionStreamExists, nil
    default:
        return strconv.ParseInt(expectedStr, 10, 64)
    }
}


func write(opts docopt.Opts) {
    stream, _ := opts.String("--stream")
    eventType, _ := opts.String("--type")
    expectedStr, _ := opts.String("--expected")

    expectedVersion, err := parseExpectedVersion(expectedStr)
    if err != nil {
        Err.Fatalf("Invalid expected version (%s).", err)
    }

    var data []byte
    if dataStr, err := opts.String("<data>"); err == nil && dataStr != "" {
        data = []byte(dataStr)
    } else {
        data, err = io.ReadAll(os.Stdin)
        if err != nil {
            Err.Fatalf("Cannot read stdin (%s).", err)
        }
    }

    cancelCtx, cancel := context.WithCancel(context.Background())
    defer cancel()

    conn, err := esclient.Connect(cancelCtx, connectionSettings(opts))
    if err != nil {
        Err.Fatalf("Cannot connect (%s).", err)
    }
    defer conn.Close()

    result, err := conn.WriteEvents(cancelCtx, stream, expectedVersion, []*esclient.CreateEvent{
        {
            Id: esclient.NewId(),
            EventType: eventType,
            IsJson: json.Valid(data),
            Data: data,
        },
    })
    if err != nil {
        Err.Fatalf("Write failed (%s).", err)
    }
    Out.Printf("%s@%d", stream, result.LastEventNumber)
}


func read(opts docopt.Opts) {
    stream, _ := opts.String("--stream")
    from, _ := opts.Int("--from")
    count, _ := opts.Int("--count")

    cancelCtx, cancel := context.WithCancel(context.Background())
    defer cancel()

    conn, err := esclient.Connect(cancelCtx, connectionSettings(opts))
    if err != nil {
        Err.Fatalf("Cannot connect (%s).", err)
    }
    defer conn.Close()

    events, err := conn.ReadEvents(cancelCtx, stream, int64(from), int64(count), true)
    if err != nil {
        Err.Fatalf("Read failed (%s).", err)
    }
    for _, event := range events {
        printEvent(event)
    }
}


func tail(opts docopt.Opts) {
    stream, _ := opts.String("--stream")
    from, _ := opts.Int("--from")

    cancelCtx, cancel := context.WithCancel(context.Background())
    defer cancel()

    conn, err := esclient.Connect(cancelCtx, connectionSettings(opts))
    if err != nil {
        Err.Fatalf("Cannot connect (%s).", err)
    }
    defer conn.Close()

    subscription, err := conn.SubscribeToStreamFrom(cancelCtx, stream, int64(from), func(event *esclient.ResolvedEvent) error {
        printEvent(event.Record())
        return nil
    })
    if err != nil {
        Err.Fatalf("Subscribe failed (%s).", err)
    }
    defer subscription.Close()

    err = <- subscription.Err()
    Err.Fatalf("Subscription ended (%s).", err)
}


func printEvent(event *esclient.RecordedEvent) {
    Out.Printf(
        "%s@%d %s %s %s",
        event.Stream,
        event.EventNumber,
        event.Id,
        event.EventType,
        string(event.Data),
    )
}
