/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package kubernetes

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/intstr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	managedByLabel = "app.kubernetes.io/managed-by"
	managedBy      = "juju"

	// ConfigVolumeName is the pod volume backed by the config ConfigMap
	ConfigVolumeName = "glauth-config"
)

// ConfigMapResource manages the ConfigMap that carries the GLAuth config file
type ConfigMapResource struct {
	client    client.Client
	name      string
	namespace string
}

// NewConfigMapResource creates a ConfigMapResource
func NewConfigMapResource(c client.Client, name, namespace string) *ConfigMapResource {
	return &ConfigMapResource{client: c, name: name, namespace: namespace}
}

// Name returns the ConfigMap name
func (r *ConfigMapResource) Name() string {
	return r.name
}

func (r *ConfigMapResource) key() types.NamespacedName {
	return types.NamespacedName{Name: r.name, Namespace: r.namespace}
}

// Get fetches the ConfigMap
func (r *ConfigMapResource) Get(ctx context.Context) (*corev1.ConfigMap, error) {
	cm := &corev1.ConfigMap{}
	if err := r.client.Get(ctx, r.key(), cm); err != nil {
		return nil, err
	}
	return cm, nil
}

// Create creates the ConfigMap with data. An existing ConfigMap is patched instead.
func (r *ConfigMapResource) Create(ctx context.Context, data map[string]string) error {
	logger := log.FromContext(ctx)

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      r.name,
			Namespace: r.namespace,
			Labels:    map[string]string{managedByLabel: managedBy},
		},
		Data: data,
	}

	err := r.client.Create(ctx, cm)
	if errors.IsAlreadyExists(err) {
		logger.Info("ConfigMap already exists, patching it", "name", r.name)
		return r.Patch(ctx, data)
	}
	if err != nil {
		return fmt.Errorf("failed to create ConfigMap %s: %w", r.name, err)
	}

	logger.Info("Created ConfigMap", "name", r.name)
	return nil
}

// Patch merges data into the ConfigMap
func (r *ConfigMapResource) Patch(ctx context.Context, data map[string]string) error {
	cm, err := r.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get ConfigMap %s: %w", r.name, err)
	}

	original := cm.DeepCopy()
	if cm.Data == nil {
		cm.Data = map[string]string{}
	}
	for k, v := range data {
		cm.Data[k] = v
	}

	if err := r.client.Patch(ctx, cm, client.MergeFrom(original)); err != nil {
		return fmt.Errorf("failed to patch ConfigMap %s: %w", r.name, err)
	}
	return nil
}

// Delete removes the ConfigMap; a missing ConfigMap is not an error
func (r *ConfigMapResource) Delete(ctx context.Context) error {
	cm := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: r.name, Namespace: r.namespace}}
	if err := r.client.Delete(ctx, cm); err != nil && !errors.IsNotFound(err) {
		return fmt.Errorf("failed to delete ConfigMap %s: %w", r.name, err)
	}
	log.FromContext(ctx).Info("Deleted ConfigMap", "name", r.name)
	return nil
}

// StatefulSetResource manages the charm's own StatefulSet
type StatefulSetResource struct {
	client    client.Client
	name      string
	namespace string
}

// NewStatefulSetResource creates a StatefulSetResource
func NewStatefulSetResource(c client.Client, name, namespace string) *StatefulSetResource {
	return &StatefulSetResource{client: c, name: name, namespace: namespace}
}

// Get fetches the StatefulSet
func (r *StatefulSetResource) Get(ctx context.Context) (*appsv1.StatefulSet, error) {
	sts := &appsv1.StatefulSet{}
	if err := r.client.Get(ctx, types.NamespacedName{Name: r.name, Namespace: r.namespace}, sts); err != nil {
		return nil, err
	}
	return sts, nil
}

// MountConfig adds a ConfigMap volume to the pod template and mounts it
// read-only into container at mountPath. Nothing is patched when both are
// already present.
func (r *StatefulSetResource) MountConfig(ctx context.Context, container, configMap, mountPath string) error {
	sts, err := r.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get StatefulSet %s: %w", r.name, err)
	}
	original := sts.DeepCopy()
	spec := &sts.Spec.Template.Spec

	changed := false
	if !hasVolume(spec.Volumes, ConfigVolumeName) {
		spec.Volumes = append(spec.Volumes, corev1.Volume{
			Name: ConfigVolumeName,
			VolumeSource: corev1.VolumeSource{
				ConfigMap: &corev1.ConfigMapVolumeSource{
					LocalObjectReference: corev1.LocalObjectReference{Name: configMap},
				},
			},
		})
		changed = true
	}

	found := false
	for i := range spec.Containers {
		c := &spec.Containers[i]
		if c.Name != container {
			continue
		}
		found = true
		if !hasMount(c.VolumeMounts, ConfigVolumeName) {
			c.VolumeMounts = append(c.VolumeMounts, corev1.VolumeMount{
				Name:      ConfigVolumeName,
				MountPath: mountPath,
				ReadOnly:  true,
			})
			changed = true
		}
	}
	if !found {
		return fmt.Errorf("container %s not found in StatefulSet %s", container, r.name)
	}

	if !changed {
		return nil
	}
	if err := r.client.Patch(ctx, sts, client.MergeFrom(original)); err != nil {
		return fmt.Errorf("failed to patch StatefulSet %s: %w", r.name, err)
	}
	log.FromContext(ctx).Info("Mounted config into StatefulSet", "name", r.name, "path", mountPath)
	return nil
}

func hasVolume(volumes []corev1.Volume, name string) bool {
	for _, v := range volumes {
		if v.Name == name {
			return true
		}
	}
	return false
}

func hasMount(mounts []corev1.VolumeMount, name string) bool {
	for _, m := range mounts {
		if m.Name == name {
			return true
		}
	}
	return false
}

// ServiceResource manages the Service Juju creates for the application
type ServiceResource struct {
	client    client.Client
	name      string
	namespace string
}

// NewServiceResource creates a ServiceResource
func NewServiceResource(c client.Client, name, namespace string) *ServiceResource {
	return &ServiceResource{client: c, name: name, namespace: namespace}
}

// EnsurePort makes the Service expose a named TCP port
func (r *ServiceResource) EnsurePort(ctx context.Context, name string, port int32) error {
	svc := &corev1.Service{}
	if err := r.client.Get(ctx, types.NamespacedName{Name: r.name, Namespace: r.namespace}, svc); err != nil {
		return fmt.Errorf("failed to get Service %s: %w", r.name, err)
	}
	original := svc.DeepCopy()

	desired := corev1.ServicePort{
		Name:       name,
		Protocol:   corev1.ProtocolTCP,
		Port:       port,
		TargetPort: intstr.FromInt32(port),
	}

	ports := make([]corev1.ServicePort, 0, len(svc.Spec.Ports)+1)
	for _, p := range svc.Spec.Ports {
		if p.Name == name {
			if p.Port == desired.Port && p.TargetPort == desired.TargetPort && p.Protocol == desired.Protocol {
				return nil
			}
			continue
		}
		ports = append(ports, p)
	}
	svc.Spec.Ports = append(ports, desired)

	if err := r.client.Patch(ctx, svc, client.MergeFrom(original)); err != nil {
		return fmt.Errorf("failed to patch Service %s: %w", r.name, err)
	}
	log.FromContext(ctx).Info("Patched Service port", "name", r.name, "port", name)
	return nil
}
