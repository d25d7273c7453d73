package discovery

import (
	"encoding/json"
	"fmt"
)

// Namespace is a Kubernetes namespace as seen by discovery.
type Namespace struct {
	Name string `json:"name"`
}

// ServicePort is a single port exposed by a Kubernetes service.
type ServicePort struct {
	Name       string `json:"name,omitempty"`
	Port       uint16 `json:"port"`
	TargetPort uint16 `json:"targetPort"`
	Protocol   string `json:"protocol,omitempty"`
}

// DisplayName renders the port for listings, e.g. "8080 (http)".
func (p ServicePort) DisplayName() string {
	if p.Name != "" {
		return fmt.Sprintf("%d (%s)", p.Port, p.Name)
	}
	return fmt.Sprintf("%d", p.Port)
}

// Service is a Kubernetes service as seen by discovery.
type Service struct {
	Name      string        `json:"name"`
	Namespace string        `json:"namespace"`
	Type      string        `json:"type"`
	ClusterIP string        `json:"clusterIP,omitempty"`
	Ports     []ServicePort `json:"ports"`
}

// ID returns the service identity in "namespace/name" form.
func (s Service) ID() string {
	return fmt.Sprintf("%s/%s", s.Namespace, s.Name)
}

// NodeHealth summarizes cluster node readiness for the doctor command.
type NodeHealth struct {
	ReadyNodes int
	TotalNodes int
}

// ----------------------------------------------------------------------------
// kubectl JSON response decoding
// ----------------------------------------------------------------------------

type namespaceList struct {
	Items []struct {
		Metadata struct {
			Name string `json:"name"`
		} `json:"metadata"`
	} `json:"items"`
}

func (l namespaceList) toNamespaces() []Namespace {
	namespaces := make([]Namespace, 0, len(l.Items))
	for _, item := range l.Items {
		namespaces = append(namespaces, Namespace{Name: item.Metadata.Name})
	}
	return namespaces
}

type serviceList struct {
	Items []struct {
		Metadata struct {
			Name      string `json:"name"`
			Namespace string `json:"namespace"`
		} `json:"metadata"`
		Spec struct {
			Type      string `json:"type"`
			ClusterIP string `json:"clusterIP"`
			Ports     []struct {
				Name string `json:"name"`
				Port uint16 `json:"port"`
				// targetPort can be an integer or a named port string.
				TargetPort json.RawMessage `json:"targetPort"`
				Protocol   string          `json:"protocol"`
			} `json:"ports"`
		} `json:"spec"`
	} `json:"items"`
}

func (l serviceList) toServices() []Service {
	services := make([]Service, 0, len(l.Items))
	for _, item := range l.Items {
		svc := Service{
			Name:      item.Metadata.Name,
			Namespace: item.Metadata.Namespace,
			Type:      item.Spec.Type,
			ClusterIP: item.Spec.ClusterIP,
		}
		if svc.Type == "" {
			svc.Type = "ClusterIP"
		}
		for _, p := range item.Spec.Ports {
			port := ServicePort{
				Name:     p.Name,
				Port:     p.Port,
				Protocol: p.Protocol,
			}
			// Named target ports cannot be dialed directly; fall back to the
			// service port.
			if target, ok := decodeTargetPort(p.TargetPort); ok {
				port.TargetPort = target
			} else {
				port.TargetPort = p.Port
			}
			svc.Ports = append(svc.Ports, port)
		}
		services = append(services, svc)
	}
	return services
}

func decodeTargetPort(raw json.RawMessage) (uint16, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n uint16
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}
