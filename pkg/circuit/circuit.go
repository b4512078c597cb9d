package circuit

import (
	"fmt"
	"sort"

	"github.com/edp1096/transim/internal/consts"
	"github.com/edp1096/transim/pkg/device"
	"github.com/edp1096/transim/pkg/simerr"
)

// Circuit owns the node map, the device list and the extra-variable manager.
// Nodes are created while devices are added; Setup freezes everything and
// fixes the system size.
type Circuit struct {
	name     string
	nodeMap  map[string]int
	devices  []device.Device
	extras   *ExtraVars
	numNodes int
	frozen   bool
}

func New(name string) *Circuit {
	return &Circuit{
		name:    name,
		nodeMap: make(map[string]int),
		devices: make([]device.Device, 0),
	}
}

func isGround(name string) bool {
	return name == "0" || name == "gnd" || name == "GND"
}

// AddNode returns the index of name, assigning the next free one when new.
func (c *Circuit) AddNode(name string) (int, error) {
	if isGround(name) {
		return consts.GROUND, nil
	}
	if idx, ok := c.nodeMap[name]; ok {
		return idx, nil
	}
	if c.frozen {
		return 0, simerr.New(simerr.ConfigurationError, "circuit", "node %q added after setup", name)
	}
	idx := len(c.nodeMap) + 1
	c.nodeMap[name] = idx
	return idx, nil
}

// Add registers dev and resolves its node names.
func (c *Circuit) Add(devs ...device.Device) error {
	for _, dev := range devs {
		if c.frozen {
			return simerr.New(simerr.ConfigurationError, "circuit", "device %s added after setup", dev.GetName())
		}
		for _, existing := range c.devices {
			if existing.GetName() == dev.GetName() {
				return simerr.New(simerr.ConfigurationError, "circuit", "duplicate device name %s", dev.GetName())
			}
		}

		names := dev.GetNodeNames()
		nodeIndices := make([]int, len(names))
		for i, nodeName := range names {
			idx, err := c.AddNode(nodeName)
			if err != nil {
				return err
			}
			nodeIndices[i] = idx
		}
		dev.SetNodes(nodeIndices)
		c.devices = append(c.devices, dev)
	}
	return nil
}

// Setup validates the topology, runs the extra-variable pre-scan and binds the
// assigned indices back to the devices. maxNodes <= 0 disables the bound.
func (c *Circuit) Setup(maxNodes int) error {
	if c.frozen {
		return nil
	}
	if len(c.devices) == 0 {
		return simerr.New(simerr.ConfigurationError, "setup", "circuit %q has no devices", c.name)
	}
	if maxNodes > 0 && len(c.nodeMap) > maxNodes {
		return simerr.New(simerr.ConfigurationError, "setup", "%d nodes exceed the limit of %d", len(c.nodeMap), maxNodes)
	}
	if len(c.nodeMap) == 0 {
		return simerr.New(simerr.ConfigurationError, "setup", "circuit %q has only the ground node", c.name)
	}
	for _, dev := range c.devices {
		for _, n := range dev.GetNodes() {
			if n < 0 || n > len(c.nodeMap) {
				return simerr.New(simerr.ConfigurationError, "setup", "device %s references unknown node %d", dev.GetName(), n)
			}
		}
	}

	c.numNodes = len(c.nodeMap)
	c.extras = NewExtraVars(c.numNodes + 1)

	// Pre-scan
	for _, dev := range c.devices {
		user, ok := dev.(device.ExtraVariableUser)
		if !ok {
			continue
		}
		for _, role := range user.ExtraRoles() {
			if _, err := c.extras.Allocate(dev.GetName(), role); err != nil {
				return err
			}
		}
	}
	c.extras.Freeze()
	c.frozen = true

	// Bind
	for _, dev := range c.devices {
		user, ok := dev.(device.ExtraVariableUser)
		if !ok {
			continue
		}
		name := dev.GetName()
		err := user.BindExtra(func(role string) (int, error) {
			if idx, ok := c.extras.Lookup(name, role); ok {
				return idx, nil
			}
			return 0, simerr.New(simerr.ConfigurationError, "setup", "extra variable %s/%s was not scanned", name, role)
		})
		if err != nil {
			return fmt.Errorf("binding device %s: %w", name, err)
		}
	}
	return nil
}

func (c *Circuit) Name() string {
	return c.name
}

// Size is the number of unknowns including the ground row.
func (c *Circuit) Size() int {
	if c.extras == nil {
		return len(c.nodeMap) + 1
	}
	return c.numNodes + 1 + c.extras.Len()
}

func (c *Circuit) GetNumNodes() int {
	return len(c.nodeMap)
}

func (c *Circuit) GetNodeMap() map[string]int {
	return c.nodeMap
}

func (c *Circuit) GetDevices() []device.Device {
	return c.devices
}

func (c *Circuit) Extras() *ExtraVars {
	return c.extras
}

func (c *Circuit) Frozen() bool {
	return c.frozen
}

func (c *Circuit) NodeIndex(name string) (int, bool) {
	if isGround(name) {
		return consts.GROUND, true
	}
	idx, ok := c.nodeMap[name]
	return idx, ok
}

// NodeNames lists the non-ground nodes ordered by index.
func (c *Circuit) NodeNames() []string {
	names := make([]string, 0, len(c.nodeMap))
	for name := range c.nodeMap {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return c.nodeMap[names[i]] < c.nodeMap[names[j]] })
	return names
}

// GetSolution labels a solution vector the way SPICE prints it.
func (c *Circuit) GetSolution(x []float64) map[string]float64 {
	solution := make(map[string]float64)

	for name, idx := range c.nodeMap {
		if idx < len(x) {
			solution[fmt.Sprintf("V(%s)", name)] = x[idx]
		}
	}

	if c.extras != nil {
		for idx := c.numNodes + 1; idx < len(x) && idx < c.Size(); idx++ {
			solution[c.extras.Label(idx)] = x[idx]
		}
	}
	return solution
}
