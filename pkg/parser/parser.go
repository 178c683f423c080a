// Package parser turns raw nmap XML output into a types.HostRecord. It is
// total: every input, including empty or malformed bytes, produces a
// HostRecord rather than a panic or an opaque error.
package parser

import (
	"encoding/xml"
	"strings"

	"github.com/scanord/engine/pkg/types"
)

// xmlNmapRun mirrors only the elements parsed downstream; everything
// else nmap emits is ignored by encoding/xml automatically.
type xmlNmapRun struct {
	XMLName  xml.Name    `xml:"nmaprun"`
	Host     *xmlHost    `xml:"host"`
	RunStats *xmlRunStat `xml:"runstats"`
}

type xmlRunStat struct {
	Finished *xmlFinished `xml:"finished"`
}

type xmlFinished struct {
	Summary string `xml:"summary,attr"`
}

type xmlHost struct {
	Status    xmlStatus     `xml:"status"`
	Addresses []xmlAddress  `xml:"address"`
	Hostnames *xmlHostnames `xml:"hostnames"`
	Ports     *xmlPorts     `xml:"ports"`
}

type xmlStatus struct {
	State  string `xml:"state,attr"`
	Reason string `xml:"reason,attr"`
}

type xmlAddress struct {
	AddrType string `xml:"addrtype,attr"`
	Addr     string `xml:"addr,attr"`
}

type xmlHostnames struct {
	Hostname []xmlHostname `xml:"hostname"`
}

type xmlHostname struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
}

type xmlPorts struct {
	Port []xmlPort `xml:"port"`
}

type xmlPort struct {
	Protocol string      `xml:"protocol,attr"`
	PortID   int         `xml:"portid,attr"`
	State    *xmlState   `xml:"state"`
	Service  *xmlService `xml:"service"`
	Script   []xmlScript `xml:"script"`
}

type xmlState struct {
	State  string `xml:"state,attr"`
	Reason string `xml:"reason,attr"`
}

type xmlService struct {
	Name      string    `xml:"name,attr"`
	Product   string    `xml:"product,attr"`
	Version   string    `xml:"version,attr"`
	ExtraInfo string    `xml:"extrainfo,attr"`
	CPE       []xmlCPE  `xml:"cpe"`
}

type xmlCPE struct {
	Value string `xml:",chardata"`
}

type xmlScript struct {
	ID     string `xml:"id,attr"`
	Output string `xml:"output,attr"`
}

// Parse converts raw nmap XML output into a HostRecord. It never
// returns an error: every failure mode is represented as a field on the
// returned HostRecord, matching the "always produce structured output"
// contract of the system this was ported from.
func Parse(data []byte) types.HostRecord {
	if len(data) == 0 {
		return types.HostRecord{Status: "down", Reason: "no-response"}
	}

	var run xmlNmapRun
	if err := xml.Unmarshal(data, &run); err != nil {
		return types.HostRecord{Error: "parse_error", Details: err.Error()}
	}

	if run.Host == nil {
		if run.RunStats != nil && run.RunStats.Finished != nil &&
			strings.Contains(run.RunStats.Finished.Summary, "0 hosts up") {
			return types.HostRecord{Status: "down", Reason: "no-response"}
		}
		return types.HostRecord{Error: "no_host"}
	}

	rec := types.HostRecord{
		Status:    orUnknown(run.Host.Status.State),
		Reason:    run.Host.Status.Reason,
		Addresses: make(map[string]string),
	}

	for _, a := range run.Host.Addresses {
		if a.AddrType != "" {
			rec.Addresses[a.AddrType] = a.Addr
		}
	}

	if run.Host.Hostnames != nil {
		for _, hn := range run.Host.Hostnames.Hostname {
			rec.Hostnames = append(rec.Hostnames, types.Hostname{Name: hn.Name, Type: hn.Type})
		}
	}

	if run.Host.Ports != nil {
		for _, p := range run.Host.Ports.Port {
			rec.Ports = append(rec.Ports, parsePort(p))
		}
	}

	return rec
}

func parsePort(p xmlPort) types.Port {
	port := types.Port{
		Protocol: p.Protocol,
		PortID:   p.PortID,
	}

	if p.State != nil {
		port.State = p.State.State
		port.Reason = p.State.Reason
	}

	if p.Service != nil {
		port.Service = p.Service.Name
		port.Product = p.Service.Product
		port.Version = p.Service.Version
		port.ExtraInfo = p.Service.ExtraInfo
		for _, cpe := range p.Service.CPE {
			port.CPEs = append(port.CPEs, cpe.Value)
		}
	}

	if len(p.Script) > 0 {
		port.Scripts = make(map[string]string, len(p.Script))
		for _, s := range p.Script {
			port.Scripts[s.ID] = s.Output
		}
	}

	return port
}

func orUnknown(state string) string {
	if state == "" {
		return "unknown"
	}
	return state
}
