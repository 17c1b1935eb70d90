package console

import (
	"fmt"
	"strings"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/model"
)

const helpText = "[yellow]S[white] Scan  |  [yellow]Enter[white] Connect  |  [yellow]D[white] Disconnect  |  [yellow]Space[white] Start/Stop  |  [yellow]P[white] Pause\n" +
	"[yellow]+/-[white] Speed  |  [yellow]M[white] Mode  |  [yellow]Z[white]/[yellow]W[white] Sleep/Wake  |  [yellow]R[white] Poll  |  [yellow]Q[white] Quit"

func formatDeviceName(device model.Device) string {
	name := device.Name
	if name == "" {
		name = model.UnknownDeviceName
	}
	return fmt.Sprintf("%s (%s)", name, device.ID)
}

func formatConnection(s Snapshot) string {
	var b strings.Builder
	color := "gray"
	switch s.State {
	case model.Ready:
		color = "green"
	case model.Connecting, model.Connected, model.Scanning:
		color = "yellow"
	}
	fmt.Fprintf(&b, " [%s]●[white] %s", color, s.State)
	if s.HasDevice && s.State != model.Disconnected && s.State != model.Scanning {
		fmt.Fprintf(&b, "  %s", formatDeviceName(s.Device))
	}
	if s.Protocol != model.ProtocolNone {
		fmt.Fprintf(&b, "  [gray]%s[white]", s.Protocol)
	}
	if s.Polling {
		b.WriteString("  [gray]polling[white]")
	}
	return b.String()
}

func formatStatus(s Snapshot) string {
	if s.Status == nil {
		if s.State == model.Ready {
			return "\n\n  [gray]Waiting for data...[white]"
		}
		return "\n\n  [yellow]WalkingPad[white]\n\n  Press [yellow]S[white] to scan, then [yellow]Enter[white] to connect."
	}

	st := s.Status
	var b strings.Builder
	b.WriteString("\n")
	fmt.Fprintf(&b, "  Belt:      [yellow]%s[white]\n\n", st.BeltState)
	fmt.Fprintf(&b, "  Speed:     [yellow]%.1f[white] km/h\n\n", st.SpeedKmh())
	fmt.Fprintf(&b, "  Distance:  [yellow]%.2f[white] km\n\n", st.DistanceKm())
	fmt.Fprintf(&b, "  Time:      [yellow]%s[white]\n\n", st.FormattedTime())
	if st.Calories > 0 {
		fmt.Fprintf(&b, "  Calories:  [yellow]%d[white] kcal\n\n", st.Calories)
	}
	if s.Protocol != model.ProtocolFTMS {
		fmt.Fprintf(&b, "  Mode:      [yellow]%s[white]\n\n", st.Mode)
	}
	return b.String()
}

func formatFooter(s Snapshot) string {
	var parts []string
	if s.Record != nil {
		parts = append(parts, fmt.Sprintf("Last session: %.2f km in %s", s.Record.DistanceKm(), s.Record.FormattedTime()))
	}
	if s.LastEvent != "" {
		parts = append(parts, "Event: "+s.LastEvent)
	}
	if s.LastError != "" {
		parts = append(parts, "[red]Error: "+s.LastError+"[white]")
	}
	return " " + strings.Join(parts, "  |  ")
}
