package teleinfo

import (
	"bufio"
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"power2energy/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

const watchdogTimeout = 1 * time.Minute

// ReadingFunc receives one decoded power reading.
type ReadingFunc func(entity string, powerWatts float64, ts time.Time)

// Reader scans teleinfo frames from the meter's serial output and
// forwards the apparent power field (PAPP historic, SINSTS standard).
type Reader struct {
	config    config.TeleinfoSource
	logger    *logrus.Logger
	onReading ReadingFunc
}

func NewReader(cfg config.TeleinfoSource, logger *logrus.Logger, onReading ReadingFunc) *Reader {
	return &Reader{
		config:    cfg,
		logger:    logger,
		onReading: onReading,
	}
}

func (r *Reader) Start(ctx context.Context) error {
	c := &serial.Config{
		Name:     r.config.Port,
		Baud:     r.config.Baud,
		Size:     7,
		Parity:   serial.ParityEven,
		StopBits: serial.Stop1,
	}
	port, err := serial.OpenPort(c)
	if err != nil {
		return err
	}

	r.logger.Infof("Starting teleinfo reader on %s", r.config.Port)

	go func() {
		<-ctx.Done()
		port.Close()
	}()

	watchdog := time.AfterFunc(watchdogTimeout, func() {
		r.logger.Fatal("Teleinfo watchdog fired, meter went silent")
	})
	defer watchdog.Stop()

	lnscan := bufio.NewScanner(port)
	for lnscan.Scan() {
		line := lnscan.Text()
		key, value, err := parseLine(line)
		if err != nil {
			r.logger.Debugf("Teleinfo: bad frame line -->%s<--", line)
			continue
		}
		if key == "" {
			continue
		}
		watchdog.Reset(watchdogTimeout)

		watts, ok := apparentPower(key, value)
		if !ok {
			continue
		}
		r.onReading(r.config.Entity, watts, time.Now())
	}

	if ctx.Err() != nil {
		r.logger.Info("Stopping teleinfo reader")
		return nil
	}
	return lnscan.Err()
}

// parseLine splits one teleinfo line into key and value, dropping the
// trailing checksum character. Lines too short to carry data are
// skipped without error.
func parseLine(line string) (string, string, error) {
	if len(line) < 3 {
		return "", "", nil
	}
	line = line[:len(line)-1] // checksum char
	splitted := strings.Fields(line)
	if len(splitted) < 2 {
		return "", "", errors.New("bad parse")
	}
	key := splitted[0]
	value := strings.Join(splitted[1:], " ")
	return key, value, nil
}

// apparentPower extracts watts from the frame fields that carry
// instantaneous apparent power.
func apparentPower(key, value string) (float64, bool) {
	if key != "PAPP" && key != "SINSTS" {
		return 0, false
	}
	watts, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, false
	}
	return watts, true
}
