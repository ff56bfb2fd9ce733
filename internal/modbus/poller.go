package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"power2energy/internal/config"

	"github.com/goburrow/modbus"
	"github.com/sirupsen/logrus"
)

// ReadingFunc receives one decoded power reading.
type ReadingFunc func(entity string, powerWatts float64, ts time.Time)

// Poller reads power registers from a modbus/TCP meter on a fixed
// interval and forwards the decoded watt values.
type Poller struct {
	config    config.ModbusSource
	logger    *logrus.Logger
	handler   *modbus.TCPClientHandler
	onReading ReadingFunc
}

func NewPoller(cfg config.ModbusSource, logger *logrus.Logger, onReading ReadingFunc) *Poller {
	handler := modbus.NewTCPClientHandler(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	handler.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	handler.SlaveId = byte(cfg.SlaveID)

	return &Poller{
		config:    cfg,
		logger:    logger,
		handler:   handler,
		onReading: onReading,
	}
}

func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(p.config.PollIntervalSeconds) * time.Second)
	defer ticker.Stop()

	p.logger.Infof("Starting modbus poller for %s:%d", p.config.Host, p.config.Port)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Stopping modbus poller")
			p.handler.Close()
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Poller) poll() {
	if err := p.handler.Connect(); err != nil {
		p.logger.Errorf("Modbus connect failed: %v", err)
		return
	}

	client := modbus.NewClient(p.handler)
	ts := time.Now()

	for _, register := range p.config.Registers {
		resp, err := client.ReadHoldingRegisters(register.Address, registerCount(register.DataType))
		if err != nil {
			p.logger.Errorf("Modbus read of %s (address %d) failed: %v", register.Entity, register.Address, err)
			continue
		}

		watts, err := decode(resp, register.DataType, register.Gain)
		if err != nil {
			p.logger.Errorf("Modbus decode of %s failed: %v", register.Entity, err)
			continue
		}

		p.logger.Debugf("Modbus %s: %.1fW", register.Entity, watts)
		p.onReading(register.Entity, watts, ts)
	}
}

func registerCount(dataType string) uint16 {
	switch dataType {
	case "u32", "i32":
		return 2
	default:
		return 1
	}
}

// decode converts big-endian register bytes into watts, divided by the
// register gain (e.g. gain 10 for deciwatt registers).
func decode(data []byte, dataType string, gain float64) (float64, error) {
	if gain == 0 {
		gain = 1
	}

	var raw float64
	switch dataType {
	case "u16":
		if len(data) < 2 {
			return 0, fmt.Errorf("short response for u16: %d bytes", len(data))
		}
		raw = float64(binary.BigEndian.Uint16(data))
	case "i16":
		if len(data) < 2 {
			return 0, fmt.Errorf("short response for i16: %d bytes", len(data))
		}
		raw = float64(int16(binary.BigEndian.Uint16(data)))
	case "u32":
		if len(data) < 4 {
			return 0, fmt.Errorf("short response for u32: %d bytes", len(data))
		}
		raw = float64(binary.BigEndian.Uint32(data))
	case "i32":
		if len(data) < 4 {
			return 0, fmt.Errorf("short response for i32: %d bytes", len(data))
		}
		raw = float64(int32(binary.BigEndian.Uint32(data)))
	default:
		return 0, fmt.Errorf("unsupported register data type %q", dataType)
	}

	return raw / gain, nil
}
