// Package gui is the outer shell: a device chooser, a connect button, relay
// toggle buttons/LCDs, and ADC value labels. It consumes the core's driver
// event channels and holds no protocol logic of its own.
package gui

import (
	"fmt"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
	"github.com/sirupsen/logrus"

	"modbusbaby/internal/adcdrv"
	"modbusbaby/internal/config"
	"modbusbaby/internal/device"
	"modbusbaby/internal/mbmaster"
	"modbusbaby/internal/relaydrv"
	"modbusbaby/internal/rtuio"
	"modbusbaby/pkg/utils"
)

// App is the Fyne shell wired to one shared RTU bus and the relay/ADC
// drivers configured for it.
type App struct {
	fyneApp fyne.App
	window  fyne.Window
	cfg     *config.Config
	log     *logrus.Logger
	version string
	author  string

	master *mbmaster.Master
	relay  *relaydrv.Driver
	adc    *adcdrv.Driver

	portSelect  *widget.Select
	baudSelect  *widget.Select
	connectBtn  *widget.Button
	statusLabel *widget.Label
	logOutput   *widget.Entry

	relayButtons [8]*widget.Button
	inputLabels  [8]*widget.Label
	modeSelects  [8]*widget.Select

	adcValueLabels [8]*widget.Label
	adcTypeSelects [8]*widget.Select
}

// NewApp builds the window and wires the relay/ADC drivers described by
// cfg.Devices onto one shared master. It does not open the port — the
// user does that with the connect button.
func NewApp(cfg *config.Config, log *logrus.Logger, version, author string) *App {
	fyneApp := app.NewWithID("com.biggiantbaby.modbusbaby")
	window := fyneApp.NewWindow(fmt.Sprintf("ModbusBaby v%s", version))
	window.Resize(fyne.NewSize(1000, 700))
	window.CenterOnScreen()

	a := &App{
		fyneApp: fyneApp,
		window:  window,
		cfg:     cfg,
		log:     log,
		version: version,
		author:  author,
	}

	a.master = mbmaster.New(rtuio.Config{
		PortName: cfg.Port,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: rtuio.OneStopBit,
		Parity:   rtuio.ParityNone,
	}, log)

	relayAddr, adcAddr := byte(3), byte(1)
	relayPollMs, adcPollMs := uint32(2000), uint32(1000)
	for _, d := range cfg.Devices {
		switch d.Kind {
		case config.RelayBoard:
			relayAddr, relayPollMs = d.Address, d.PollIntervalMs
		case config.ADCBoard:
			adcAddr, adcPollMs = d.Address, d.PollIntervalMs
		}
	}
	a.relay = relaydrv.New(a.master, log, relayAddr)
	a.relay.SetPollIntervalMs(relayPollMs)
	a.adc = adcdrv.New(a.master, log, adcAddr)
	a.adc.SetPollIntervalMs(adcPollMs)

	a.buildUI()
	go a.pumpRelayEvents()
	go a.pumpADCEvents()
	return a
}

func (a *App) buildUI() {
	a.portSelect = widget.NewSelect(a.availablePorts(), nil)
	a.portSelect.SetSelected(a.cfg.Port)
	a.baudSelect = widget.NewSelect([]string{"4800", "9600", "19200", "38400", "57600", "115200"}, nil)
	a.baudSelect.SetSelected(strconv.Itoa(a.cfg.BaudRate))
	a.connectBtn = widget.NewButton("Connect", a.toggleConnection)
	a.statusLabel = widget.NewLabel("Disconnected")

	connectionRow := container.NewHBox(
		widget.NewLabel("Port:"), a.portSelect,
		widget.NewLabel("Baud:"), a.baudSelect,
		a.connectBtn, a.statusLabel,
	)

	relayGrid := container.NewGridWithColumns(4)
	for i := range a.relayButtons {
		i := i
		btn := widget.NewButton(fmt.Sprintf("Relay %d: off", i), func() {
			current, _ := a.relay.RelayStatus(i)
			if err := a.relay.SetRelayStatus(i, !current); err != nil {
				a.appendLog(fmt.Sprintf("relay %d: %v", i, err))
			}
		})
		a.relayButtons[i] = btn

		modeSelect := widget.NewSelect([]string{"Normal", "Linkage", "Toggle"}, func(s string) {
			mode := relaydrv.Normal
			switch s {
			case "Linkage":
				mode = relaydrv.Linkage
			case "Toggle":
				mode = relaydrv.Toggle
			}
			if err := a.relay.SetControlMode(i, mode, true); err != nil {
				a.appendLog(fmt.Sprintf("relay %d mode: %v", i, err))
			}
		})
		modeSelect.SetSelected("Normal")
		a.modeSelects[i] = modeSelect

		inputLabel := widget.NewLabel(fmt.Sprintf("DI%d: low", i))
		a.inputLabels[i] = inputLabel

		relayGrid.Add(container.NewVBox(btn, modeSelect, inputLabel))
	}

	adcGrid := container.NewGridWithColumns(4)
	for i := range a.adcValueLabels {
		i := i
		valueLabel := widget.NewLabel(fmt.Sprintf("CH%d: 0", i))
		a.adcValueLabels[i] = valueLabel

		typeSelect := widget.NewSelect([]string{"0-5V", "1-5V", "0-20mA", "4-20mA", "raw-0-4096"}, func(s string) {
			t := adcdrv.Range0to5V
			switch s {
			case "1-5V":
				t = adcdrv.Range1to5V
			case "0-20mA":
				t = adcdrv.Range0to20mA
			case "4-20mA":
				t = adcdrv.Range4to20mA
			case "raw-0-4096":
				t = adcdrv.RangeRaw4096
			}
			if err := a.adc.SetChannelType(i, t, true); err != nil {
				a.appendLog(fmt.Sprintf("channel %d: %v", i, err))
			}
		})
		typeSelect.SetSelected("0-5V")
		a.adcTypeSelects[i] = typeSelect

		adcGrid.Add(container.NewVBox(valueLabel, typeSelect))
	}

	a.logOutput = widget.NewMultiLineEntry()
	a.logOutput.Disable()

	a.window.SetContent(container.NewVBox(
		widget.NewLabelWithStyle(fmt.Sprintf("ModbusBaby v%s — %s", a.version, a.author), fyne.TextAlignCenter, fyne.TextStyle{Bold: true}),
		connectionRow,
		widget.NewSeparator(),
		widget.NewLabel("Relay / DI board"),
		relayGrid,
		widget.NewSeparator(),
		widget.NewLabel("ADC board"),
		adcGrid,
		widget.NewSeparator(),
		a.logOutput,
	))
}

func (a *App) availablePorts() []string {
	ports, err := utils.GetSimpleSerialPorts()
	if err != nil || len(ports) == 0 {
		return []string{a.cfg.Port}
	}
	return ports
}

func (a *App) toggleConnection() {
	if a.master.IsOpen() {
		a.relay.Close()
		a.adc.Close()
		a.master.Close()
		a.connectBtn.SetText("Connect")
		a.statusLabel.SetText("Disconnected")
		a.appendLog("disconnected")
		return
	}

	if err := a.master.SetPortName(a.portSelect.Selected); err != nil {
		a.appendLog(fmt.Sprintf("port: %v", err))
		return
	}
	if baud, err := strconv.Atoi(a.baudSelect.Selected); err == nil {
		if err := a.master.SetBaudRate(baud); err != nil {
			a.appendLog(fmt.Sprintf("baud: %v", err))
			return
		}
	}
	if err := a.master.Open(); err != nil {
		a.appendLog(fmt.Sprintf("open: %v", err))
		return
	}
	a.relay.Open()
	a.adc.Open()
	a.connectBtn.SetText("Disconnect")
	a.statusLabel.SetText("Connected")
	a.appendLog(fmt.Sprintf("connected to %s @ %s baud", a.portSelect.Selected, a.baudSelect.Selected))
}

func (a *App) pumpRelayEvents() {
	for n := range a.relay.Notifications() {
		switch ev := n.(type) {
		case relaydrv.RelayChangedEvent:
			state := "off"
			if ev.State {
				state = "on"
			}
			a.relayButtons[ev.Relay].SetText(fmt.Sprintf("Relay %d: %s", ev.Relay, state))
		case relaydrv.InputChangedEvent:
			state := "low"
			if ev.State {
				state = "high"
			}
			a.inputLabels[ev.Channel].SetText(fmt.Sprintf("DI%d: %s", ev.Channel, state))
		case relaydrv.ModeChangedEvent:
			a.modeSelects[ev.Relay].SetSelected(ev.Mode.String())
		case device.OpenedEvent:
			a.appendLog("relay board opened")
		case device.ClosedEvent:
			a.appendLog("relay board closed")
		}
	}
}

func (a *App) pumpADCEvents() {
	for n := range a.adc.Notifications() {
		switch ev := n.(type) {
		case adcdrv.ValueChangedEvent:
			a.adcValueLabels[ev.Channel].SetText(fmt.Sprintf("CH%d: %.0f", ev.Channel, ev.Value))
		case adcdrv.ChannelChangedEvent:
			a.adcTypeSelects[ev.Channel].SetSelected(ev.Type.String())
		case device.OpenedEvent:
			a.appendLog("ADC board opened")
		case device.ClosedEvent:
			a.appendLog("ADC board closed")
		}
	}
}

func (a *App) appendLog(message string) {
	timestamp := time.Now().Format("15:04:05")
	a.logOutput.SetText(a.logOutput.Text + fmt.Sprintf("[%s] %s\n", timestamp, message))
	a.log.Debug(message)
}

// ShowAndRun blocks until the window is closed.
func (a *App) ShowAndRun() {
	a.window.ShowAndRun()
}
