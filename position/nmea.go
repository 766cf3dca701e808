package position

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"go.bug.st/serial"

	"github.com/castrilha/castrilha"
)

const (
	// DefaultNMEABaudRate is the usual rate of USB GPS receivers.
	DefaultNMEABaudRate = 9600

	knotsToMPS = 0.514444
	// uere approximates the user equivalent range error in meters; accuracy
	// is estimated as HDOP * uere.
	uere = 5.0
)

// NMEASource reads fixes from a GPS receiver on a serial port.
type NMEASource struct {
	Port     string
	BaudRate int

	logger *slog.Logger
	list   func() ([]string, error)
	open   func(name string, mode *serial.Mode) (io.ReadCloser, error)
}

// NewNMEASource creates a source for the receiver on port.
func NewNMEASource(port string, baudRate int, logger *slog.Logger) *NMEASource {
	if baudRate <= 0 {
		baudRate = DefaultNMEABaudRate
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NMEASource{
		Port:     port,
		BaudRate: baudRate,
		logger:   logger,
		list:     serial.GetPortsList,
		open: func(name string, mode *serial.Mode) (io.ReadCloser, error) {
			return serial.Open(name, mode)
		},
	}
}

// Probe checks that the port exists.
func (s *NMEASource) Probe(ctx context.Context) error {
	ports, err := s.list()
	if err != nil {
		return fmt.Errorf("%w: list ports: %v", castrilha.ErrPositionUnavailable, err)
	}
	if !slices.Contains(ports, s.Port) {
		return fmt.Errorf("%w: gps port %s not present", castrilha.ErrPositionUnavailable, s.Port)
	}
	return nil
}

// Stream opens the port and decodes sentences until ctx is done.
func (s *NMEASource) Stream(ctx context.Context, emit func(castrilha.Position), fail func(error)) error {
	port, err := s.open(s.Port, &serial.Mode{BaudRate: s.BaudRate})
	if err != nil {
		return fmt.Errorf("open gps port %s: %w", s.Port, err)
	}
	stop := context.AfterFunc(ctx, func() { port.Close() })
	defer func() {
		if stop() {
			port.Close()
		}
	}()

	err = ReadNMEA(port, s.logger, emit)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil {
		err = io.EOF
	}
	return fmt.Errorf("gps port %s: %w", s.Port, err)
}

// ReadNMEA decodes sentences from r until it ends. RMC sentences with an
// active fix are emitted; GGA sentences only refresh the accuracy estimate.
func ReadNMEA(r io.Reader, logger *slog.Logger, emit func(castrilha.Position)) error {
	var d nmeaDecoder
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}
		p, ok, err := d.decode(line)
		if err != nil {
			logger.Debug("position: bad nmea sentence",
				slog.String("sentence", line),
				slog.String("error", err.Error()))
			continue
		}
		if ok {
			emit(p)
		}
	}
	return sc.Err()
}

type nmeaDecoder struct {
	accuracy float64
}

func (d *nmeaDecoder) decode(line string) (castrilha.Position, bool, error) {
	sentence, err := nmea.Parse(line)
	if err != nil {
		return castrilha.Position{}, false, err
	}

	switch sentence.DataType() {
	case nmea.TypeGGA:
		gga := sentence.(nmea.GGA)
		if gga.HDOP > 0 {
			d.accuracy = gga.HDOP * uere
		}
	case nmea.TypeRMC:
		rmc := sentence.(nmea.RMC)
		if rmc.Validity != nmea.ValidRMC {
			return castrilha.Position{}, false, nil
		}
		return castrilha.Position{
			LatLng:   castrilha.LatLng{Lat: rmc.Latitude, Lng: rmc.Longitude},
			Accuracy: d.accuracy,
			Speed:    rmc.Speed * knotsToMPS,
			Heading:  rmc.Course,
			Time:     rmcTime(rmc),
		}, true, nil
	}
	return castrilha.Position{}, false, nil
}

// rmcTime combines the sentence date and time. Invalid stamps yield the
// zero time so the tracker stamps the fix on receipt.
func rmcTime(rmc nmea.RMC) time.Time {
	if !rmc.Date.Valid || !rmc.Time.Valid {
		return time.Time{}
	}
	return time.Date(2000+rmc.Date.YY, time.Month(rmc.Date.MM), rmc.Date.DD,
		rmc.Time.Hour, rmc.Time.Minute, rmc.Time.Second,
		rmc.Time.Millisecond*int(time.Millisecond), time.UTC)
}
